// Package counter implements the cyclic dual counter used to drive nested
// iteration inside an execution graph.
//
// Every invocation of Engine.Advance produces two integers:
//
//   - value: the fast-moving index, walking the inclusive range [start, end]
//   - cycle: the slow-moving index, counting completed traversals of that range
//
// Nodes have no call stack between invocations, so the engine keeps one State
// per resolved key in a sharded Store that lives as long as the Engine. Several
// node instances that share a group key observe and mutate one timeline.
//
// # Keys
//
// ResolveKey turns an optional group key and the caller's instance id into the
// key used by the store:
//
//	key, err := counter.ResolveKey(" batch-a ", "node-7") // "GROUP::batch-a"
//	key, err := counter.ResolveKey("", "node-7")          // "node-7"
//
// # Advance rules
//
// A new slot first emits its initial state (start, 0). Afterwards:
//
//	fixed      value stays where it is
//	increment  value += step, wrapping past end back to start
//	decrement  value -= step, wrapping below start back to end
//	randomize  value drawn uniformly from [start, end]
//
// A single step larger than the range counts every traversal it covers, so
// start=0, end=2, step=10 advances cycle by 3 in one call.
//
// Reset restores (start, 0) and emits it without stepping. ResetCycleOnly zeroes
// the cycle and then steps normally.
//
// # Example
//
//	engine := counter.NewEngine()
//	cfg := counter.Config{Mode: counter.ModeIncrement, Start: 0, End: 5, Step: 1}
//	for i := 0; i < 8; i++ {
//	    res, err := engine.Advance(ctx, cfg, "node-7")
//	    // 0/0 1/0 2/0 3/0 4/0 5/0 0/1 1/1
//	}
package counter
