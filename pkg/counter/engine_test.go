package counter

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advanceN(t *testing.T, e *Engine, cfg Config, key string, n int) (values, cycles []int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := e.Advance(context.Background(), cfg, key)
		require.NoError(t, err)
		values = append(values, res.Value)
		cycles = append(cycles, res.Cycle)
	}
	return values, cycles
}

func TestEngine_IncrementSequence(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 5, Step: 1}

	values, cycles := advanceN(t, e, cfg, "node-1", 14)

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 0, 1, 2, 3, 4, 5, 0, 1}, values)
	assert.Equal(t, []int64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 2, 2}, cycles)
}

func TestEngine_DecrementSequence(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeDecrement, Start: 0, End: 5, Step: 1}

	values, cycles := advanceN(t, e, cfg, "node-1", 8)

	assert.Equal(t, []int64{0, 5, 4, 3, 2, 1, 0, 5}, values)
	assert.Equal(t, []int64{0, 1, 1, 1, 1, 1, 1, 2}, cycles)
}

func TestEngine_NonZeroStart(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: -2, End: 1, Step: 3}

	values, cycles := advanceN(t, e, cfg, "k", 5)

	// -2 -> 1 -> (4 wraps to 0) -> (3 wraps to -1) -> (2 wraps to -2)
	assert.Equal(t, []int64{-2, 1, 0, -1, -2}, values)
	assert.Equal(t, []int64{0, 0, 1, 2, 3}, cycles)
}

func TestEngine_FixedMode(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeFixed, Start: 3, End: 9, Step: 2}

	values, cycles := advanceN(t, e, cfg, "k", 4)
	assert.Equal(t, []int64{3, 3, 3, 3}, values)
	assert.Equal(t, []int64{0, 0, 0, 0}, cycles)

	// fixed keeps whatever position an earlier mode left behind
	inc := cfg
	inc.Mode = ModeIncrement
	res, err := e.Advance(context.Background(), inc, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Value)

	values, _ = advanceN(t, e, cfg, "k", 2)
	assert.Equal(t, []int64{5, 5}, values)
}

func TestEngine_StepLargerThanRange(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 2, Step: 10}

	values, cycles := advanceN(t, e, cfg, "k", 3)

	assert.Equal(t, []int64{0, 1, 2}, values)
	assert.Equal(t, []int64{0, 3, 6}, cycles)
}

func TestEngine_DecrementStepLargerThanRange(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeDecrement, Start: 0, End: 5, Step: 10}

	values, cycles := advanceN(t, e, cfg, "k", 3)

	// 0 -> -10: offset 15 from end, two traversals, lands on 5-3=2
	assert.Equal(t, []int64{0, 2, 4}, values)
	assert.Equal(t, []int64{0, 2, 4}, cycles)
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 10, End: 12, Step: 1}
	advanceN(t, e, cfg, "k", 7)

	reset := cfg
	reset.Reset = true
	res, err := e.Advance(context.Background(), reset, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Value)
	assert.Equal(t, int64(0), res.Cycle)

	// reset also wins over reset_cycle_only
	reset.ResetCycleOnly = true
	res, err = e.Advance(context.Background(), reset, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Value)
	assert.Equal(t, int64(0), res.Cycle)

	values, cycles := advanceN(t, e, cfg, "k", 3)
	assert.Equal(t, []int64{11, 12, 10}, values)
	assert.Equal(t, []int64{0, 0, 1}, cycles)
}

func TestEngine_ResetOnFreshKey(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeDecrement, Start: 1, End: 4, Step: 1, Reset: true}

	res, err := e.Advance(context.Background(), cfg, "fresh")
	require.NoError(t, err)
	assert.Equal(t, Result{Key: "fresh", Value: 1, Cycle: 0}, res)
}

func TestEngine_ResetCycleOnly(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 3, Step: 1}
	values, cycles := advanceN(t, e, cfg, "k", 10)
	require.Equal(t, int64(1), values[9])
	require.Equal(t, int64(2), cycles[9])

	rc := cfg
	rc.ResetCycleOnly = true
	res, err := e.Advance(context.Background(), rc, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value, "value keeps advancing from its prior position")
	assert.Equal(t, int64(0), res.Cycle)

	values, cycles = advanceN(t, e, cfg, "k", 3)
	assert.Equal(t, []int64{3, 0, 1}, values)
	assert.Equal(t, []int64{0, 1, 1}, cycles)
}

func TestEngine_ResetCycleOnlyCountsWrapOfSameCall(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 1, Step: 1}
	advanceN(t, e, cfg, "k", 4) // 0 1 0 1, cycle 1

	rc := cfg
	rc.ResetCycleOnly = true
	res, err := e.Advance(context.Background(), rc, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Value)
	assert.Equal(t, int64(1), res.Cycle)
}

func TestEngine_ConfigurationErrorsPreserveState(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 5, Step: 1}
	advanceN(t, e, cfg, "k", 3) // 0 1 2

	before, ok := e.State("k")
	require.True(t, ok)

	bad := []Config{
		{Mode: ModeIncrement, Start: 5, End: 0, Step: 1},
		{Mode: ModeIncrement, Start: 0, End: 5, Step: 0},
		{Mode: ModeIncrement, Start: 0, End: 5, Step: -3},
		{Mode: "sideways", Start: 0, End: 5, Step: 1},
		{Mode: ModeIncrement, Start: -MaxBound - 1, End: 5, Step: 1},
		{Mode: ModeIncrement, Start: 0, End: MaxBound + 1, Step: 1},
		{Mode: ModeIncrement, Start: 0, End: 5, Step: MaxBound + 1},
		{Mode: ModeIncrement, Start: 5, End: 0, Step: 1, Reset: true},
	}

	for i, c := range bad {
		_, err := e.Advance(context.Background(), c, "k")
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "case %d", i)
		var ce *ConfigurationError
		assert.True(t, errors.As(err, &ce), "case %d", i)
		assert.True(t, IsPermanent(err))
	}

	after, ok := e.State("k")
	require.True(t, ok)
	assert.Equal(t, before, after)

	res, err := e.Advance(context.Background(), cfg, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Value, "state continues after rejected calls")
}

func TestEngine_ConfigurationErrorDoesNotCreateSlot(t *testing.T) {
	e := NewEngine()
	_, err := e.Advance(context.Background(), Config{Mode: ModeIncrement, Start: 2, End: 1, Step: 1}, "k")
	require.Error(t, err)

	_, ok := e.State("k")
	assert.False(t, ok)
	assert.Equal(t, 0, e.Len())
}

func TestEngine_EmptyKey(t *testing.T) {
	e := NewEngine()
	_, err := e.Advance(context.Background(), Config{Mode: ModeIncrement, Start: 0, End: 1, Step: 1}, "")
	require.Error(t, err)
	assert.True(t, IsKeyResolutionError(err))
	assert.True(t, IsPermanent(err))
}

func TestEngine_KeysAreIndependent(t *testing.T) {
	e := NewEngine()
	inc := Config{Mode: ModeIncrement, Start: 0, End: 9, Step: 1}
	dec := Config{Mode: ModeDecrement, Start: 0, End: 9, Step: 1}

	a, _ := advanceN(t, e, inc, "a", 3)
	b, _ := advanceN(t, e, dec, "b", 3)
	a2, _ := advanceN(t, e, inc, "a", 2)

	assert.Equal(t, []int64{0, 1, 2}, a)
	assert.Equal(t, []int64{0, 9, 8}, b)
	assert.Equal(t, []int64{3, 4}, a2)
	assert.Equal(t, []string{"a", "b"}, e.Keys())
}

func TestEngine_SharedGroupKeyInterleaved(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 2, Step: 1, GroupKey: "batch"}

	keyA, err := ResolveKey(cfg.GroupKey, "node-a")
	require.NoError(t, err)
	keyB, err := ResolveKey(cfg.GroupKey, "node-b")
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)

	var got []int64
	for i := 0; i < 6; i++ {
		key := keyA
		if i%2 == 1 {
			key = keyB
		}
		res, err := e.Advance(context.Background(), cfg, key)
		require.NoError(t, err)
		got = append(got, res.Value)
	}

	assert.Equal(t, []int64{0, 1, 2, 0, 1, 2}, got)
}

func TestEngine_ConcurrentSharedKeyNoLostUpdates(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 9, Step: 1}

	const workers = 8
	const perWorker = 250

	var mu sync.Mutex
	seen := make(map[[2]int64]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				res, err := e.Advance(context.Background(), cfg, "GROUP::shared")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[[2]int64{res.Cycle, res.Value}]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := workers * perWorker
	require.Len(t, seen, total, "every emitted (cycle, value) pair must be unique")
	for pos := 0; pos < total; pos++ {
		pair := [2]int64{int64(pos / 10), int64(pos % 10)}
		assert.Equal(t, 1, seen[pair], "pair %v", pair)
	}

	st, ok := e.State("GROUP::shared")
	require.True(t, ok)
	assert.Equal(t, int64((total-1)%10), st.Value)
	assert.Equal(t, int64((total-1)/10), st.Cycle)
}

func TestEngine_RandomizeStaysInRange(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeRandomize, Start: -3, End: 4, Step: 1}

	values, cycles := advanceN(t, e, cfg, "k", 500)
	for i, v := range values {
		assert.GreaterOrEqual(t, v, int64(-3), "call %d", i)
		assert.LessOrEqual(t, v, int64(4), "call %d", i)
	}
	for i := 1; i < len(cycles); i++ {
		assert.GreaterOrEqual(t, cycles[i], cycles[i-1], "cycle never decreases")
	}
}

func TestEngine_RandomizeHeuristicCycles(t *testing.T) {
	e := NewEngineWithConfig(DefaultEngineConfig().WithRand(rand.New(rand.NewPCG(7, 11))))
	cfg := Config{Mode: ModeRandomize, Start: 0, End: 9, Step: 1}

	values, cycles := advanceN(t, e, cfg, "k", 200)

	assert.Equal(t, int64(0), cycles[0], "first draw never counts a cycle")
	for i := 1; i < len(values); i++ {
		delta := cycles[i] - cycles[i-1]
		if values[i] <= values[i-1] {
			assert.Equal(t, int64(1), delta, "call %d", i)
		} else {
			assert.Equal(t, int64(0), delta, "call %d", i)
		}
	}
}

func TestEngine_RandomizeCyclePolicyNone(t *testing.T) {
	e := NewEngineWithConfig(DefaultEngineConfig().WithRandomCycle(RandomCycleNone))
	cfg := Config{Mode: ModeRandomize, Start: 0, End: 1, Step: 1}

	_, cycles := advanceN(t, e, cfg, "k", 50)
	for _, c := range cycles {
		assert.Equal(t, int64(0), c)
	}
}

func TestEngine_RangeChangeFoldsValue(t *testing.T) {
	e := NewEngine()
	wide := Config{Mode: ModeIncrement, Start: 0, End: 9, Step: 1}
	advanceN(t, e, wide, "k", 8) // value 7

	narrow := Config{Mode: ModeIncrement, Start: 0, End: 3, Step: 1}
	res, err := e.Advance(context.Background(), narrow, "k")
	require.NoError(t, err)

	// 7 folds to 3, then steps and wraps to 0
	assert.Equal(t, int64(0), res.Value)
	assert.Equal(t, int64(1), res.Cycle)

	fixed := Config{Mode: ModeFixed, Start: 100, End: 101, Step: 1}
	res, err = e.Advance(context.Background(), fixed, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Value)
	assert.Equal(t, int64(1), res.Cycle, "folding never changes the cycle")
}

func TestEngine_SnapshotRestore(t *testing.T) {
	e := NewEngine()
	cfg := Config{Mode: ModeIncrement, Start: 0, End: 2, Step: 1}
	advanceN(t, e, cfg, "a", 4)
	advanceN(t, e, cfg, "b", 2)

	snap := e.Snapshot()
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, 2, snap.Len())

	restored := NewEngine()
	restored.Restore(snap)

	res, err := restored.Advance(context.Background(), cfg, "a")
	require.NoError(t, err)
	assert.Equal(t, Result{Key: "a", Value: 1, Cycle: 1}, res)

	assert.True(t, restored.Forget("b"))
	assert.False(t, restored.Forget("b"))
	assert.Equal(t, []string{"a"}, restored.Keys())
}
