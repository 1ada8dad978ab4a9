package common

import (
	"errors"
	"net/http"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_FAILED"
	CodeStockExceeded      = "STOCK_EXCEEDED"
	CodeSignatureInvalid   = "PAYMENT_SIGNATURE_INVALID"
	CodeCartCheckedOut     = "CART_CHECKED_OUT"
	CodeCheckoutInProgress = "CHECKOUT_IN_PROGRESS"
	CodeRateLimited        = "RATE_LIMITED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotFound builds a 404 error.
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// FieldErrors maps a request field to a human readable message.
type FieldErrors map[string]string

// ValidationFailed builds a 422 error carrying field-level messages.
func ValidationFailed(fields FieldErrors) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    "validation failed",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"fields": fields},
	}
}

// WriteError renders err. Errors that are not an AppError become a 500.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	code := appErr.Code
	if code == "" {
		code = CodeInternal
	}
	message := appErr.Message
	if message == "" {
		message = "internal error"
	}
	JSONError(w, status, code, message, appErr.Details)
}
