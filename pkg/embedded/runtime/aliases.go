package runtime

import "github.com/wehubfusion/cyclecounter/pkg/embedded/runtime/logging"

type (
	Logger     = logging.Logger
	Field      = logging.Field
	NoOpLogger = logging.NoOpLogger
)

var (
	// NewZapLogger bridges a *zap.Logger to the runtime Logger interface.
	NewZapLogger = logging.NewZapLogger
)
