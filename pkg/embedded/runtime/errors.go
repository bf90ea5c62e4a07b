package runtime

import (
	"errors"
	"strconv"
)

// Common errors used throughout the runtime.
var (
	// ErrNoExecutor is returned when no creator is registered for a plugin type.
	ErrNoExecutor = errors.New("no executor registered for plugin type")

	// ErrInvalidInput is returned when the input data is invalid.
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInvalidConfig is returned when the node configuration is invalid.
	ErrInvalidConfig = errors.New("invalid node configuration")

	// ErrProcessingFailed is returned when node processing fails.
	ErrProcessingFailed = errors.New("node processing failed")

	// ErrContextCancelled is returned when the context is cancelled.
	ErrContextCancelled = errors.New("context cancelled")
)

// Processing phases reported in ProcessingError.
const (
	PhaseCreate    = "create"
	PhaseConfigure = "configure"
	PhaseResolve   = "resolve"
	PhaseProcess   = "process"
)

// ProcessingError wraps an error with additional context.
type ProcessingError struct {
	// NodeId is the ID of the node that caused the error
	NodeId string
	// NodeLabel is the human-readable name of the node
	NodeLabel string
	// PluginType is the type of the node
	PluginType string
	// ItemIndex is the index of the item being processed (-1 if not in a batch)
	ItemIndex int
	// Phase indicates which phase of processing failed
	Phase string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	msg := "processing error in node " + e.NodeLabel + " (" + e.NodeId + ") [" + e.PluginType + "] "
	if e.ItemIndex >= 0 {
		msg += "at item " + strconv.Itoa(e.ItemIndex) + " "
	}
	return msg + "during " + e.Phase + ": " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError creates a new processing error.
func NewProcessingError(nodeId, nodeLabel, pluginType string, itemIndex int, phase string, cause error) *ProcessingError {
	return &ProcessingError{
		NodeId:     nodeId,
		NodeLabel:  nodeLabel,
		PluginType: pluginType,
		ItemIndex:  itemIndex,
		Phase:      phase,
		Cause:      cause,
	}
}

// permanentError is satisfied by domain errors that know whether retrying helps.
type permanentError interface {
	Permanent() bool
}

// IsPermanentError reports whether retrying the same input cannot succeed.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var p permanentError
	if errors.As(err, &p) {
		return p.Permanent()
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoExecutor)
}

// IsRetryableError reports whether err may succeed on a later attempt.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, ErrContextCancelled) {
		return false
	}
	return errors.Is(err, ErrProcessingFailed) && !IsPermanentError(err)
}
