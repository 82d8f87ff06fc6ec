// Package apperr defines the business-error taxonomy shared by the
// ledger, matching engine, and order service, and maps each member to
// an HTTP status code at the API boundary.
package apperr

import "net/http"

type Code string

const (
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeNoLiquidity       Code = "NO_LIQUIDITY"
	CodeTransientConflict Code = "TRANSIENT_CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

// Error is a typed business error carrying the taxonomy code that the
// HTTP layer maps to a status code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func New(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

func Unauthenticated(msg string) *Error   { return New(CodeUnauthenticated, msg) }
func Forbidden(msg string) *Error         { return New(CodeForbidden, msg) }
func NotFound(msg string) *Error          { return New(CodeNotFound, msg) }
func Conflict(msg string) *Error          { return New(CodeConflict, msg) }
func InvalidInput(msg string) *Error      { return New(CodeInvalidInput, msg) }
func InsufficientFunds(msg string) *Error { return New(CodeInsufficientFunds, msg) }
func NoLiquidity(msg string) *Error       { return New(CodeNoLiquidity, msg) }
func TransientConflict(msg string) *Error { return New(CodeTransientConflict, msg) }
func Internal(msg string) *Error          { return New(CodeInternal, msg) }

// StatusCode returns the HTTP status for err's taxonomy code, falling
// back to 500 for an error type this package doesn't know about.
func StatusCode(err error) int {
	ae, ok := err.(*Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInvalidInput, CodeInsufficientFunds, CodeNoLiquidity:
		return http.StatusBadRequest
	case CodeTransientConflict, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	ae, ok := err.(*Error)
	return ae, ok
}
