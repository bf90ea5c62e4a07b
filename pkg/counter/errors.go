package counter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every ConfigurationError.
	ErrInvalidConfig = errors.New("invalid counter configuration")

	// ErrKeyResolution is wrapped by every KeyResolutionError.
	ErrKeyResolution = errors.New("counter key could not be resolved")
)

// ConfigurationError reports a configuration the engine refuses to run.
// It is raised before any state is touched.
type ConfigurationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("counter config error: %s", e.Message)
	}
	return fmt.Sprintf("counter config error [%s=%v]: %s", e.Field, e.Value, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// Permanent reports that the same configuration will always be rejected.
func (e *ConfigurationError) Permanent() bool { return true }

// NewConfigurationError creates a ConfigurationError for a single field.
func NewConfigurationError(field string, value interface{}, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Message: message}
}

// KeyResolutionError is returned when neither a group key nor an instance id
// is available. It is a contract violation by the caller and must not be retried.
type KeyResolutionError struct {
	GroupKey   string
	InstanceID string
}

func (e *KeyResolutionError) Error() string {
	return fmt.Sprintf("counter key resolution failed: group_key=%q instance_id=%q", e.GroupKey, e.InstanceID)
}

func (e *KeyResolutionError) Unwrap() error { return ErrKeyResolution }

func (e *KeyResolutionError) Permanent() bool { return true }

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsKeyResolutionError reports whether err is (or wraps) a KeyResolutionError.
func IsKeyResolutionError(err error) bool {
	return errors.Is(err, ErrKeyResolution)
}

// IsPermanent reports whether retrying the same call can never succeed.
// Counting is never retried, so every engine error is permanent.
func IsPermanent(err error) bool {
	return IsConfigurationError(err) || IsKeyResolutionError(err)
}
