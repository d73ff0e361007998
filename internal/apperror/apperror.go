// Package apperror defines the error kinds services return to the HTTP layer.
package apperror

import (
	"github.com/pkg/errors"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// Error is an expected, client-visible failure.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	return e.Message
}

// Validation returns a validation error with optional field details.
func Validation(msg string, fields ...FieldError) error {
	return errors.WithStack(&Error{Kind: KindValidation, Message: msg, Fields: fields})
}

// Forbidden returns an authorization error.
func Forbidden(msg string) error {
	return errors.WithStack(&Error{Kind: KindForbidden, Message: msg})
}

// NotFound returns a missing-resource error.
func NotFound(msg string) error {
	return errors.WithStack(&Error{Kind: KindNotFound, Message: msg})
}

// Conflict returns a state-conflict error.
func Conflict(msg string) error {
	return errors.WithStack(&Error{Kind: KindConflict, Message: msg})
}

// As extracts the *Error wrapped inside err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
