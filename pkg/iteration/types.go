package iteration

import (
	"context"
	"fmt"
	"strings"
)

// Strategy defines how items are processed
type Strategy string

const (
	StrategySequential Strategy = "sequential" // Process items one by one, in order
	StrategyParallel   Strategy = "parallel"   // Process items concurrently
)

// ParseStrategy parses a strategy name. The empty string means sequential.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategySequential:
		return StrategySequential, nil
	case StrategyParallel:
		return StrategyParallel, nil
	}
	return "", fmt.Errorf("unknown iteration strategy %q", s)
}

// Config holds configuration for iteration
type Config struct {
	Strategy      Strategy // sequential or parallel
	MaxConcurrent int      // Max concurrent workers (0 = runtime.NumCPU())
}

// ProcessFunc is the function called for each item
type ProcessFunc[T, R any] func(ctx context.Context, item T, index int) (R, error)
