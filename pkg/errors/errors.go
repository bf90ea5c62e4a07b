package errors

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/cyclecounter/pkg/counter"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidSubject indicates that the provided subject is invalid
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrInvalidMessage indicates that the message is invalid
	ErrInvalidMessage = errors.New("invalid message")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrNoResponse indicates that no response was received for a request
	ErrNoResponse = errors.New("no response received")

	// ErrSubscriptionFailed indicates that a subscription could not be created
	ErrSubscriptionFailed = errors.New("subscription failed")
)

// Machine-readable error codes carried in service replies.
const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeKeyResolution  = "KEY_RESOLUTION_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
)

// Error represents a structured transport error
type Error struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Field names the offending configuration field, if any
	Field string `json:"field,omitempty"`

	// Err is the underlying error, if any
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Permanent reports whether resending the same request cannot succeed.
func (e *Error) Permanent() bool {
	switch e.Code {
	case CodeConfiguration, CodeKeyResolution, CodeInvalidRequest:
		return true
	}
	return false
}

// NewError creates a new transport error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FromError classifies err for a service reply.
func FromError(err error) *Error {
	var cerr *counter.ConfigurationError
	var kerr *counter.KeyResolutionError
	var terr *Error

	switch {
	case errors.As(err, &terr):
		return terr
	case errors.As(err, &cerr):
		return &Error{Code: CodeConfiguration, Message: cerr.Message, Field: cerr.Field, Err: err}
	case errors.As(err, &kerr):
		return &Error{Code: CodeKeyResolution, Message: "no group_key and no instance_id", Err: err}
	case errors.Is(err, ErrInvalidMessage):
		return &Error{Code: CodeInvalidRequest, Message: err.Error(), Err: err}
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// Restore rebuilds the domain error behind a decoded reply error, so callers
// of a remote engine can use the same errors.Is/As checks as with a local one.
func (e *Error) Restore() *Error {
	if e.Err != nil {
		return e
	}
	out := *e
	switch e.Code {
	case CodeConfiguration:
		out.Err = counter.NewConfigurationError(e.Field, nil, e.Message)
	case CodeKeyResolution:
		out.Err = &counter.KeyResolutionError{}
	case CodeInvalidRequest:
		out.Err = ErrInvalidMessage
	}
	return &out
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
