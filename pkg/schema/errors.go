package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeStore               = "STORE_ERROR"
)

// ForjaError is the structured error type for all forja operations.
type ForjaError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ForjaError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ForjaError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ForjaError.
func NewError(code, message string) *ForjaError {
	return &ForjaError{Code: code, Message: message}
}

// NewErrorf creates a new ForjaError with a formatted message.
func NewErrorf(code, format string, args ...any) *ForjaError {
	return &ForjaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step slug to the error.
func (e *ForjaError) WithStep(slug string) *ForjaError {
	e.Step = slug
	return e
}

// WithCause attaches an underlying cause.
func (e *ForjaError) WithCause(err error) *ForjaError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ForjaError) WithDetails(details map[string]any) *ForjaError {
	e.Details = details
	return e
}

// CodeOf returns the ForjaError code of err, or ErrCodeExecution for any
// other error value.
func CodeOf(err error) string {
	if fe, ok := err.(*ForjaError); ok {
		return fe.Code
	}
	return ErrCodeExecution
}
