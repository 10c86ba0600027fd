package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeTemplate            = "TEMPLATE_ERROR"
	ErrCodeRender              = "RENDER_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeConcurrentExecution = "CONCURRENT_EXECUTION"
	ErrCodeDialogTerminal      = "DIALOG_TERMINAL"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeRetryExhausted      = "RETRY_EXHAUSTED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeLLM                 = "LLM_ERROR"
	ErrCodeCallableUnavailable = "CALLABLE_UNAVAILABLE"
)

// DialogError is the structured error type for all engine operations.
type DialogError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *DialogError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %q: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DialogError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the error may be handled by a step's
// error-handling strategy (retry/continue/fallback) instead of failing the
// dialog outright. Template, concurrency, and terminal errors never are.
func (e *DialogError) Recoverable() bool {
	switch e.Code {
	case ErrCodeRender, ErrCodeExecution, ErrCodeLLM, ErrCodeCallableUnavailable:
		return true
	default:
		return false
	}
}

// NewError creates a new DialogError.
func NewError(code, message string) *DialogError {
	return &DialogError{Code: code, Message: message}
}

// NewErrorf creates a new DialogError with a formatted message.
func NewErrorf(code, format string, args ...any) *DialogError {
	return &DialogError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *DialogError) WithStep(step string) *DialogError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *DialogError) WithCause(err error) *DialogError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DialogError) WithDetails(details map[string]any) *DialogError {
	e.Details = details
	return e
}

// IsCode reports whether err is (or wraps) a DialogError with the given code.
func IsCode(err error, code string) bool {
	var de *DialogError
	return errors.As(err, &de) && de.Code == code
}
