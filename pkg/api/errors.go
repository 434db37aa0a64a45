package api

import (
	"fmt"
	"net/http"
)

// ErrorType is the machine-readable category of an APIError.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUpstreamError   ErrorType = "upstream_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
)

var statusByType = map[ErrorType]int{
	ErrorTypeInvalidRequest:  http.StatusBadRequest,
	ErrorTypeUnauthorized:    http.StatusUnauthorized,
	ErrorTypeNotFound:        http.StatusNotFound,
	ErrorTypeTooManyRequests: http.StatusTooManyRequests,
	ErrorTypeServerError:     http.StatusInternalServerError,
	ErrorTypeUpstreamError:   http.StatusBadGateway,
}

// APIError is the body of every non-2xx JSON response, wrapped in
// ErrorResponse.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`

	status int
}

func (e *APIError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
}

// HTTPStatus returns the status code the error is served with. It is
// derived from Type unless WithStatus set one; unknown types map to 500.
func (e *APIError) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	if s, ok := statusByType[e.Type]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithStatus overrides the status code for protocol-level failures that
// share a type with ordinary validation errors (413, 415, 405).
func (e *APIError) WithStatus(code int) *APIError {
	e.status = code
	return e
}

// ErrorResponse is the {"error": {...}} envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

func newError(t ErrorType, message string) *APIError {
	return &APIError{Type: t, Message: message}
}

// NewInvalidRequestError reports a request that failed validation; param
// names the offending field.
func NewInvalidRequestError(param, message string) *APIError {
	e := newError(ErrorTypeInvalidRequest, message)
	e.Param = param
	return e
}

func NewNotFoundError(message string) *APIError { return newError(ErrorTypeNotFound, message) }

func NewServerError(message string) *APIError { return newError(ErrorTypeServerError, message) }

// NewUpstreamError reports that no LLM backend could produce an answer.
func NewUpstreamError(message string) *APIError { return newError(ErrorTypeUpstreamError, message) }

func NewTooManyRequestsError(message string) *APIError {
	return newError(ErrorTypeTooManyRequests, message)
}

func NewUnauthorizedError(message string) *APIError {
	return newError(ErrorTypeUnauthorized, message)
}
