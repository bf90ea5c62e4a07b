package counter

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects how the value register moves on each invocation.
type Mode string

const (
	ModeFixed     Mode = "fixed"
	ModeIncrement Mode = "increment"
	ModeDecrement Mode = "decrement"
	ModeRandomize Mode = "randomize"
)

// Modes lists the supported modes in display order.
var Modes = []Mode{ModeFixed, ModeIncrement, ModeDecrement, ModeRandomize}

// modeChoices is the validation message listing Modes, e.g.
// "must be one of fixed|increment|decrement|randomize".
var modeChoices = func() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return "must be one of " + strings.Join(names, "|")
}()

// MaxBound is the largest magnitude accepted for start, end and step.
// It keeps value+step and end-start+1 well inside int64.
const MaxBound int64 = 1_000_000_000_000

// ParseMode normalizes a mode name. An empty name means ModeFixed.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return ModeFixed, nil
	}
	if !m.Valid() {
		return "", NewConfigurationError("mode", s, modeChoices)
	}
	return m, nil
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFixed, ModeIncrement, ModeDecrement, ModeRandomize:
		return true
	}
	return false
}

// UnmarshalText normalizes the mode while decoding JSON or YAML.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config is the per-invocation counter configuration.
type Config struct {
	Mode           Mode   `json:"mode" yaml:"mode"`
	Start          int64  `json:"start" yaml:"start"`
	End            int64  `json:"end" yaml:"end"`
	Step           int64  `json:"step" yaml:"step"`
	GroupKey       string `json:"group_key,omitempty" yaml:"group_key"`
	Reset          bool   `json:"reset,omitempty" yaml:"reset"`
	ResetCycleOnly bool   `json:"reset_cycle_only,omitempty" yaml:"reset_cycle_only"`
}

// DefaultConfig returns the configuration a counter starts from before any
// field is set: increment over [0, 6] by 1.
func DefaultConfig() Config {
	return Config{Mode: ModeIncrement, Start: 0, End: 6, Step: 1}
}

// Validate checks the configuration without touching any state.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return NewConfigurationError("mode", string(c.Mode), modeChoices)
	}
	if c.Start < -MaxBound || c.Start > MaxBound {
		return NewConfigurationError("start", c.Start, fmt.Sprintf("must be within [%d, %d]", -MaxBound, MaxBound))
	}
	if c.End < -MaxBound || c.End > MaxBound {
		return NewConfigurationError("end", c.End, fmt.Sprintf("must be within [%d, %d]", -MaxBound, MaxBound))
	}
	if c.End < c.Start {
		return NewConfigurationError("end", c.End, fmt.Sprintf("must be >= start (%d)", c.Start))
	}
	if c.Step < 1 {
		return NewConfigurationError("step", c.Step, "must be >= 1")
	}
	if c.Step > MaxBound {
		return NewConfigurationError("step", c.Step, fmt.Sprintf("must be <= %d", MaxBound))
	}
	return nil
}

// Size returns the number of integers in [Start, End].
func (c Config) Size() int64 {
	return c.End - c.Start + 1
}

// fingerprint is a stable textual form of the configuration.
func (c Config) fingerprint() string {
	return fmt.Sprintf("%s:%d:%d:%d:%s:%t:%t", c.Mode, c.Start, c.End, c.Step, c.GroupKey, c.Reset, c.ResetCycleOnly)
}

// State is the persisted register pair for one key.
type State struct {
	Value int64 `json:"value"`
	Cycle int64 `json:"cycle"`
	// Primed is set once the slot has emitted its initial state.
	Primed bool `json:"primed"`
}

// Result is the output of one invocation.
type Result struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
	Cycle int64  `json:"cycle"`
}

// Advancer advances the counter stored under key. Engine implements it
// in-process; the NATS client implements it against a remote engine.
type Advancer interface {
	Advance(ctx context.Context, cfg Config, key string) (Result, error)
}

// RandomCyclePolicy decides how randomize mode accounts cycles.
type RandomCyclePolicy string

const (
	// RandomCycleHeuristic counts a cycle whenever a draw is <= the previous value.
	RandomCycleHeuristic RandomCyclePolicy = "heuristic"
	// RandomCycleNone never advances the cycle in randomize mode.
	RandomCycleNone RandomCyclePolicy = "none"
)

// ParseRandomCyclePolicy accepts "heuristic" (also the empty string) and "none".
func ParseRandomCyclePolicy(s string) (RandomCyclePolicy, error) {
	switch RandomCyclePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RandomCycleHeuristic:
		return RandomCycleHeuristic, nil
	case RandomCycleNone:
		return RandomCycleNone, nil
	}
	return "", fmt.Errorf("unknown random cycle policy %q", s)
}
