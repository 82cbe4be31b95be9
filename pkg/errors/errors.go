package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Authorization errors
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrCodeNotParticipant ErrorCode = "NOT_PARTICIPANT"

	// Not found errors
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeMessageNotFound      ErrorCode = "MESSAGE_NOT_FOUND"

	// Conflict errors
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Internal errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code, message and HTTP status
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// Authorization errors
func ForbiddenError(message string) *AppError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// NotParticipantError marks an operation attempted by a user outside the
// conversation's participant set
func NotParticipantError() *AppError {
	return New(ErrCodeNotParticipant, "User is not a participant of this conversation", http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func ConversationNotFoundError() *AppError {
	return New(ErrCodeConversationNotFound, "Conversation not found", http.StatusNotFound)
}

func MessageNotFoundError() *AppError {
	return New(ErrCodeMessageNotFound, "Message not found", http.StatusNotFound)
}

// Conflict errors
func ConflictError(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Internal errors
func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// StoreUnavailableError marks a transient persistence failure on the
// authoritative write path; it is always surfaced to the caller, never
// absorbed like mirror or broadcast failures.
func StoreUnavailableError(err error) *AppError {
	return Wrap(ErrCodeStoreUnavailable, "Persistent store unavailable", http.StatusServiceUnavailable, err)
}

// IsCode reports whether err is an AppError carrying the given code
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts an AppError from err, wrapping anything else as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
