package concurrency

import (
	"fmt"
	"os"
)

// ConfigSource indicates where the concurrency limit came from
type ConfigSource string

const (
	ConfigSourceExplicit   ConfigSource = "explicit"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the resolved concurrency parameters of a process
type Config struct {
	MaxConcurrent int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// Resolve turns a configured limit into a Config. A non-positive maxConcurrent
// selects a default derived from the effective CPU count.
func Resolve(maxConcurrent int) *Config {
	c := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: GetEffectiveCPUs(),
	}

	if maxConcurrent > 0 {
		c.MaxConcurrent = maxConcurrent
		c.Source = ConfigSourceExplicit
	} else {
		c.MaxConcurrent = defaultMaxConcurrent(c.IsKubernetes, c.EffectiveCPUs)
		c.Source = ConfigSourceAutoDetect
	}

	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	return c
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	// Kubernetes sets this environment variable in all containers
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// defaultMaxConcurrent returns sensible defaults based on environment.
// Advancing a counter is CPU-bound and short, so the limit mostly bounds
// request decoding and reply traffic.
func defaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
