package errors

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
)

// Sentinels. Compare with errors.Is or the Is* helpers; the Code decides
// identity, so a copy made by WithDetail still matches its sentinel.
var (
	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized       = NewError("UNAUTHORIZED", "authentication required", http.StatusUnauthorized)
	ErrForbidden          = NewError("FORBIDDEN", "insufficient permissions", http.StatusForbidden)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
	ErrDuplicate          = NewError("DUPLICATE", "already loaded", http.StatusConflict)
	ErrWrongShape         = NewError("WRONG_SHAPE", "registered entry has the wrong shape", http.StatusUnprocessableEntity)
)

type FatalError interface {
	error
	IsFatal() bool
}

type retryMode uint8

const (
	retryByCode retryMode = iota
	retryAlways
	retryNever
)

type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error
	mode    retryMode
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Error prefers a "message" detail over the generic sentinel text.
func (e *Error) Error() string {
	msg := e.Message
	if m, ok := e.Details["message"].(string); ok && m != "" {
		msg = m
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return e.Code + ": " + msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsFatal reports whether retrying cannot help. Bad input and missing
// documents are fatal unless marked otherwise, as is a fatal cause.
func (e *Error) IsFatal() bool {
	switch e.mode {
	case retryAlways:
		return false
	case retryNever:
		return true
	}
	var cause FatalError
	if e.Cause != nil && errors.As(e.Cause, &cause) {
		return cause.IsFatal()
	}
	return e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) IsRetryable() bool { return !e.IsFatal() }

func (e *Error) clone() *Error {
	c := *e
	c.Details = maps.Clone(e.Details)
	return &c
}

func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Cause = cause
	return c
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]interface{}, 1)
	}
	c.Details[key] = value
	return c
}

func (e *Error) AsRetryable() *Error {
	c := e.clone()
	c.mode = retryAlways
	return c
}

func (e *Error) AsFatal() *Error {
	c := e.clone()
	c.mode = retryNever
	return c
}

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool         { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsDuplicate(err error) bool          { return errors.Is(err, ErrDuplicate) }
func IsWrongShape(err error) bool         { return errors.Is(err, ErrWrongShape) }
func IsServiceUnavailable(err error) bool { return errors.Is(err, ErrServiceUnavailable) }
func IsUnauthorized(err error) bool       { return errors.Is(err, ErrUnauthorized) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse hides anything that is not an *Error behind ErrInternal.
// Server-side failures never echo their details, which may hold a stack.
func ToErrorResponse(err error) ErrorResponse {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}
	resp := ErrorResponse{Error: appErr.Message, ErrorCode: appErr.Code}
	if appErr.Status < http.StatusInternalServerError {
		resp.Details = appErr.Details
	}
	return resp
}
