// Package domainerrors defines the error taxonomy shared by services and the
// HTTP layer. Services return *Error values; handlers translate the Code into
// a status and a stable numeric code for the response envelope.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeInvalidKey         Code = "invalid_key"
	CodeNotFound           Code = "not_found"
	CodeAlreadyExists      Code = "already_exists"
	CodeUnauthorized       Code = "unauthorized"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTerminalState      Code = "terminal_state"
	CodeGatewayUnavailable Code = "gateway_unavailable"
	CodeBadRequest         Code = "bad_request"
	CodeInternal           Code = "internal_error"
)

// Error carries a domain code, a caller-safe message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error without an underlying cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a domain code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost domain error in the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err is a domain error carrying code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is shorthand for HasCode, kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// HTTPStatus maps a code to the response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidKey, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeTerminalState:
		return http.StatusGone
	case CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Numeric returns the stable numeric code exposed in the response envelope.
// Clients switch on this value; it must not change once published.
func Numeric(code Code) int {
	switch code {
	case CodeInvalidKey:
		return 1001
	case CodeNotFound:
		return 1002
	case CodeAlreadyExists:
		return 1003
	case CodeUnauthorized:
		return 1004
	case CodeConflict:
		return 1005
	case CodeInvariantViolation:
		return 1006
	case CodeTerminalState:
		return 1007
	case CodeGatewayUnavailable:
		return 1008
	case CodeBadRequest:
		return 1009
	default:
		return 1000
	}
}

// FromNumeric is the inverse of Numeric, for clients decoding an envelope.
func FromNumeric(n int) Code {
	for _, code := range []Code{
		CodeInvalidKey, CodeNotFound, CodeAlreadyExists, CodeUnauthorized, CodeConflict,
		CodeInvariantViolation, CodeTerminalState, CodeGatewayUnavailable, CodeBadRequest,
	} {
		if Numeric(code) == n {
			return code
		}
	}
	return CodeInternal
}
