package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeForKubernetes sets GOMAXPROCS to the container CPU quota.
// Call it at the start of a long-running command, before sizing any pools.
// The returned function restores the previous value.
func InitializeForKubernetes(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()

	undo, err := maxprocs.Set(maxprocs.Logger(sugar.Infof))
	if err != nil {
		logger.Warn("failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Info("concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))

	return undo
}

// GetEffectiveCPUs returns the effective number of CPUs available.
// This respects cgroup limits once InitializeForKubernetes has run.
func GetEffectiveCPUs() int {
	return runtime.GOMAXPROCS(0)
}
