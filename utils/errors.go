package utils

import (
	"fmt"
)

// AppError represents a custom application error with context
type AppError struct {
	Code    int                    // HTTP status code
	Message string                 // User-friendly message
	Err     error                  // Underlying error
	Context map[string]interface{} // Additional context
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying error so errors.Is/As can see past the
// AppError wrapper, e.g. to tell a genuine storage.ErrNotFound apart from
// an AuthFailureError that happens to carry the same HTTP status code.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

// Common error constructors
func BadRequestError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

func UnauthorizedError(message string, err error) *AppError {
	return NewAppError(401, message, err)
}

func ForbiddenError(message string, err error) *AppError {
	return NewAppError(403, message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(404, message, err)
}

func InternalServerError(message string, err error) *AppError {
	return NewAppError(500, message, err)
}

// ValidationError maps to spec's ValidationError kind: malformed request
// body, bad connection enum, unparseable attachment, malformed email.
func ValidationError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

// AuthFailureError maps to spec's AuthFailure kind: envelope tag mismatch
// or IMAP/SMTP AUTH rejection. Never wraps the credential itself.
func AuthFailureError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

// NotFoundAsBadRequest maps spec's account-NotFound kind, which is a 400 at
// the account boundary (only the message endpoints use a real 404).
func NotFoundAsBadRequest(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

// UpstreamError maps to spec's Upstream/Network kind: connect/TLS/read
// timeouts, server closed socket, STARTTLS refused.
func UpstreamError(message string, err error) *AppError {
	return NewAppError(400, message, err)
}

// ConfigError maps to spec's ConfigError kind: missing or malformed master
// key. Only ever surfaced at startup.
func ConfigError(message string, err error) *AppError {
	return NewAppError(500, message, err)
}
