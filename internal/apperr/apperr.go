// Package apperr defines the error taxonomy shared by the store, codec, service and
// job pipeline layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to map it to a response.
type Kind string

// Error kinds.
const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindSchema     Kind = "schema"
	KindInternal   Kind = "internal"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind, keeping it in the chain.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// Validationf builds a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Schemaf builds a KindSchema error.
func Schemaf(format string, args ...any) *Error {
	return New(KindSchema, fmt.Sprintf(format, args...))
}

// Internal wraps err as a KindInternal error.
func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
