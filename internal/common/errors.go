package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Audit pipeline errors. The first group aborts a submission before a record exists;
// the second group is only ever recorded on a record's error_message.
var (
	ErrNoContractDocument  = errors.New("no contract document")
	ErrInvoiceUploadFailed = errors.New("invoice upload failed")
	ErrAuditRecordCreation = errors.New("audit record creation failed")
	ErrAuditRecordUpdate   = errors.New("audit record update failed")

	ErrDownloadFailed   = errors.New("download failed")
	ErrModelInvocation  = errors.New("model invocation failed")
	ErrNoTextResponse   = errors.New("no text response from model")
	ErrResultParse      = errors.New("result parse failed")
	ErrRecordNotPending = errors.New("audit record already terminal")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps an error chain onto the status code the API surfaces for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoContractDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to API callers.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// ErrorCode returns the AppError code in the chain, or a code derived from the status.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}
