// Package apperr defines the error kinds surfaced to API callers and their
// HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid request")
	ErrForbidden = errors.New("forbidden")
)

// Error carries a caller-facing message and unwraps to one of the kinds above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error  { return newf(ErrNotFound, format, args...) }
func Conflict(format string, args ...any) error  { return newf(ErrConflict, format, args...) }
func Invalid(format string, args ...any) error   { return newf(ErrInvalid, format, args...) }
func Forbidden(format string, args ...any) error { return newf(ErrForbidden, format, args...) }

// Status returns the HTTP status code for err's kind.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts a service error into an echo HTTP error. Errors without a
// kind become a 500 whose message does not leak internals; the original
// error is kept as Internal for the logger.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := Status(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	var ae *Error
	if errors.As(err, &ae) {
		return echo.NewHTTPError(status, ae.Msg)
	}
	return echo.NewHTTPError(status, err.Error())
}
