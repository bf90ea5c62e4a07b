package runtime

import "github.com/wehubfusion/cyclecounter/pkg/iteration"

// DriveConfig configures Drive.
type DriveConfig struct {
	// Strategy selects how batch items are dispatched.
	// Default: sequential, so nodes with shared state observe item order.
	Strategy iteration.Strategy

	// MaxConcurrent bounds the workers of the parallel strategy.
	// If 0, it defaults to runtime.NumCPU().
	MaxConcurrent int

	// StopOnFirstError stops processing on the first failed item.
	// When false, failures are reported per item and the batch continues.
	StopOnFirstError bool

	// Metrics receives one observation per item (nil for no metrics)
	Metrics MetricsCollector

	// Logger for structured logging (nil for no logging)
	Logger Logger
}

// DefaultDriveConfig returns sensible defaults for Drive.
func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		Strategy:         iteration.StrategySequential,
		StopOnFirstError: false,
	}
}

// Validate applies defaults to unset fields.
func (c *DriveConfig) Validate() {
	if c.Strategy == "" {
		c.Strategy = iteration.StrategySequential
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
	}
	if c.Metrics == nil {
		c.Metrics = &NoOpMetricsCollector{}
	}
	if c.Logger == nil {
		c.Logger = &NoOpLogger{}
	}
}
