// Package apperr carries the error taxonomy shared by the services and the
// HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrExternalDependency = errors.New("external dependency failure")
)

// Error is a taxonomy error. Kind is one of the sentinels above and is what
// errors.Is matches against.
type Error struct {
	Kind    error
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Fields, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error { return newf(ErrNotFound, format, args...) }

func Conflict(format string, args ...any) *Error { return newf(ErrConflict, format, args...) }

func Forbidden(format string, args ...any) *Error { return newf(ErrForbidden, format, args...) }

func InvalidInput(format string, args ...any) *Error { return newf(ErrInvalidInput, format, args...) }

func External(err error, format string, args ...any) *Error {
	e := newf(ErrExternalDependency, format, args...)
	e.Err = err
	return e
}

// WithFields attaches the offending field groups.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// Wrap keeps the cause for logging while preserving the kind.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Code returns the wire code for err, "internal" for unclassified errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrExternalDependency):
		return "external_dependency_failure"
	}
	return "internal"
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrExternalDependency):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FieldsOf returns the field groups attached to err, if any.
func FieldsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
