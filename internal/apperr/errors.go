package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

/* Kind classifies failures at the HTTP boundary
 * Each kind maps to exactly one status code and one stable error code
 */
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindInvalidInput
	KindRateLimit
	KindNotFound
)

// Stable machine-readable codes returned to clients.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeNotFound          = "NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// FieldError describes one offending field of a request body.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error is the application error carried to the HTTP layer.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation, KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: CodeUnauthorized, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: message}
}

// Validation builds a 400 error enumerating the offending fields.
func Validation(message string, fields []FieldError) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
		Details: map[string]any{"fields": fields},
	}
}

func InvalidInput(message string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeInvalidInput, Message: message, Err: err}
}

// RateLimited builds a 429 error carrying the window reset time.
func RateLimited(limit int, resetAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimit,
		Code:    CodeRateLimitExceeded,
		Message: "Too many requests, please try again later",
		Details: map[string]any{
			"limit":      limit,
			"reset_time": resetAt.UTC().Format(time.RFC3339),
		},
	}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// Internal wraps an unexpected failure. Its message is never shown to clients.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "Internal server error", Err: err}
}

// From converts any error into an *Error, treating unknown errors as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Response is the JSON error envelope.
type Response struct {
	Success bool           `json:"success"`
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	appErr := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status())
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}
