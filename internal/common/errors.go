package common

import (
	"errors"
	"net/http"
)

// AppError is a failure the client may see: a stable code, an HTTP status and
// optional details rendered in the error envelope. Err stays server side.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil && e.Message != "" && e.Message != e.Err.Error():
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

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

// WithDetails returns e with details attached.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Status returns the HTTP status, 400 when unset.
func (e *AppError) Status() int {
	if e.HTTPStatus == 0 {
		return http.StatusBadRequest
	}
	return e.HTTPStatus
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}

// WriteAppError renders e in the error envelope. A missing code becomes
// BAD_REQUEST.
func WriteAppError(w http.ResponseWriter, e *AppError) {
	code := e.Code
	if code == "" {
		code = "BAD_REQUEST"
	}
	JSONError(w, e.Status(), code, e.Message, e.Details)
}
