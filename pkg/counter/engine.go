package counter

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Randomizer draws integers in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Randomizer interface {
	Int64N(n int64) int64
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Shards is the number of store shards (rounded up to a power of two).
	Shards int

	// RandomCycle selects cycle accounting for randomize mode.
	RandomCycle RandomCyclePolicy

	// Rand overrides the random source used by randomize mode.
	// It is wrapped in a mutex, so a plain *rand.Rand is fine.
	Rand Randomizer

	// Logger receives a debug line per advance. Nil disables logging.
	Logger *zap.Logger
}

// DefaultEngineConfig returns the configuration used by NewEngine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Shards:      DefaultShardCount,
		RandomCycle: RandomCycleHeuristic,
	}
}

// WithShards sets the shard count.
func (c EngineConfig) WithShards(n int) EngineConfig {
	c.Shards = n
	return c
}

// WithRandomCycle sets the randomize cycle policy.
func (c EngineConfig) WithRandomCycle(p RandomCyclePolicy) EngineConfig {
	c.RandomCycle = p
	return c
}

// WithRand sets the random source.
func (c EngineConfig) WithRand(r Randomizer) EngineConfig {
	c.Rand = r
	return c
}

// WithLogger sets the logger.
func (c EngineConfig) WithLogger(logger *zap.Logger) EngineConfig {
	c.Logger = logger
	return c
}

// Engine owns the counter state of a process and advances it.
// It is safe for concurrent use.
type Engine struct {
	store       *Store
	randomCycle RandomCyclePolicy
	rng         Randomizer
	logger      *zap.Logger
}

var _ Advancer = (*Engine)(nil)

// NewEngine creates an engine with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine from cfg, filling in defaults.
func NewEngineWithConfig(cfg EngineConfig) *Engine {
	if cfg.RandomCycle == "" {
		cfg.RandomCycle = RandomCycleHeuristic
	}

	var rng Randomizer = globalRand{}
	if cfg.Rand != nil {
		rng = &lockedRand{src: cfg.Rand}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:       NewStore(cfg.Shards),
		randomCycle: cfg.RandomCycle,
		rng:         rng,
		logger:      logger,
	}
}

// Advance validates cfg, moves the state stored under key one invocation
// forward and returns the emitted (value, cycle). On error the stored state is
// left exactly as it was. The context only scopes logging; Advance never blocks.
func (e *Engine) Advance(ctx context.Context, cfg Config, key string) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if key == "" {
		return Result{}, &KeyResolutionError{GroupKey: cfg.GroupKey}
	}

	init := State{Value: cfg.Start}
	st, err := e.store.Update(key, init, func(st *State, created bool) error {
		e.apply(cfg, st)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if ce := e.logger.Check(zap.DebugLevel, "counter advanced"); ce != nil {
		ce.Write(
			zap.String("key", key),
			zap.String("mode", string(cfg.Mode)),
			zap.Int64("value", st.Value),
			zap.Int64("cycle", st.Cycle),
			zap.Bool("reset", cfg.Reset),
			zap.Bool("reset_cycle_only", cfg.ResetCycleOnly),
		)
	}

	return Result{Key: key, Value: st.Value, Cycle: st.Cycle}, nil
}

// apply runs one invocation of the state machine on st. cfg is already valid.
func (e *Engine) apply(cfg Config, st *State) {
	if cfg.Reset {
		st.Value = cfg.Start
		st.Cycle = 0
		st.Primed = true
		return
	}
	if cfg.ResetCycleOnly {
		st.Cycle = 0
	}

	size := cfg.Size()

	// The range may have changed since the last call on this key.
	if st.Value < cfg.Start || st.Value > cfg.End {
		st.Value = cfg.Start + floorMod(st.Value-cfg.Start, size)
	}

	if cfg.Mode == ModeRandomize {
		prev, hadPrev := st.Value, st.Primed
		st.Value = cfg.Start + e.rng.Int64N(size)
		st.Primed = true
		if hadPrev && e.randomCycle == RandomCycleHeuristic && st.Value <= prev {
			st.Cycle++
		}
		return
	}

	if !st.Primed {
		st.Primed = true
		return
	}

	switch cfg.Mode {
	case ModeIncrement:
		v := st.Value + cfg.Step
		if v > cfg.End {
			offset := v - cfg.Start
			st.Cycle += offset / size
			v = cfg.Start + offset%size
		}
		st.Value = v
	case ModeDecrement:
		v := st.Value - cfg.Step
		if v < cfg.Start {
			offset := cfg.End - v
			st.Cycle += offset / size
			v = cfg.End - offset%size
		}
		st.Value = v
	case ModeFixed:
	}
}

// State returns the stored state for key.
func (e *Engine) State(key string) (State, bool) {
	return e.store.Get(key)
}

// Forget drops the state stored under key.
func (e *Engine) Forget(key string) bool {
	return e.store.Delete(key)
}

// Keys lists every key with stored state, sorted.
func (e *Engine) Keys() []string {
	return e.store.Keys()
}

// Len returns the number of keys with stored state.
func (e *Engine) Len() int {
	return e.store.Len()
}

// Snapshot copies every stored state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Version: SnapshotVersion,
		TakenAt: time.Now().UTC(),
		Entries: e.store.Entries(),
	}
}

// Restore replaces all stored states with the snapshot contents.
func (e *Engine) Restore(s Snapshot) {
	e.store.Replace(s.Entries)
	e.logger.Info("counter state restored", zap.Int("keys", len(s.Entries)))
}

// floorMod returns a mod m in [0, m) for m > 0.
func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// globalRand draws from the goroutine-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }

// lockedRand serializes access to a caller-provided source.
type lockedRand struct {
	mu  sync.Mutex
	src Randomizer
}

func (r *lockedRand) Int64N(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Int64N(n)
}
