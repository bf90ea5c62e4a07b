package iteration

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Iterator runs a function over a slice with a configurable execution strategy.
type Iterator struct {
	config Config
}

// NewIterator creates a new iterator with given config
func NewIterator(config Config) *Iterator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}
	if config.Strategy == "" {
		config.Strategy = StrategySequential
	}
	return &Iterator{config: config}
}

// Config returns the effective configuration.
func (it *Iterator) Config() Config {
	return it.config
}

// Process runs fn over items and returns the results in item order.
// It fails fast: the first error stops the remaining items and is returned
// wrapped with the item index.
func Process[T, R any](ctx context.Context, it *Iterator, items []T, fn ProcessFunc[T, R]) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	if it.config.Strategy == StrategyParallel && it.config.MaxConcurrent > 1 && len(items) > 1 {
		return processParallel(ctx, it.config.MaxConcurrent, items, fn)
	}
	return processSequential(ctx, items, fn)
}

func processSequential[T, R any](ctx context.Context, items []T, fn ProcessFunc[T, R]) ([]R, error) {
	results := make([]R, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("stopped before item %d: %w", i, err)
		}
		out, err := fn(ctx, item, i)
		if err != nil {
			return nil, fmt.Errorf("failed processing item %d: %w", i, err)
		}
		results[i] = out
	}

	return results, nil
}

func processParallel[T, R any](ctx context.Context, workers int, items []T, fn ProcessFunc[T, R]) ([]R, error) {
	numItems := len(items)
	results := make([]R, numItems)
	if workers > numItems {
		workers = numItems
	}

	workCh := make(chan int, numItems)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				if ctx.Err() != nil {
					return
				}
				out, err := fn(ctx, items[idx], idx)
				if err != nil {
					fail(fmt.Errorf("failed processing item %d: %w", idx, err))
					return
				}
				results[idx] = out
			}
		}()
	}

sendLoop:
	for i := 0; i < numItems; i++ {
		select {
		case <-ctx.Done():
			break sendLoop
		case workCh <- i:
		}
	}
	close(workCh)

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	// Parent context cancelled before every item ran.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
