// Package errs defines the error taxonomy shared by every storage-engine
// component.
//
// All engine errors are *Error values carrying a Code. Callers classify with
// the IsXxx helpers, which use errors.As so wrapped errors still match:
//
//	if errs.IsNotFound(err) { ... }
//
// errors.Is also works against the exported sentinels (ErrNotFound, ...),
// matching on Code only.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeNotFound indicates an id or index lookup resolved to nothing where
	// presence was asserted.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyExists indicates a create would collide with a declared
	// unique index value.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodeInvalidStateTransition indicates a workflow track rule was violated.
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"

	// CodeUnauthorized indicates an authorization gate rejection.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeValidationFailed indicates malformed input.
	CodeValidationFailed Code = "VALIDATION_FAILED"
)

// Error is the single error type raised by the engine.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Collection, DocumentID and Field locate the failure when known.
	Collection string
	DocumentID string
	Field      string
}

// Sentinels for use with errors.Is. Only Code is compared.
var (
	ErrNotFound               = &Error{Code: CodeNotFound}
	ErrAlreadyExists          = &Error{Code: CodeAlreadyExists}
	ErrInvalidStateTransition = &Error{Code: CodeInvalidStateTransition}
	ErrUnauthorized           = &Error{Code: CodeUnauthorized}
	ErrValidationFailed       = &Error{Code: CodeValidationFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Collection != "" && e.DocumentID != "":
		return fmt.Sprintf("%s: %s (collection=%s, id=%s)", e.Code, e.Message, e.Collection, e.DocumentID)
	case e.Collection != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (collection=%s, field=%s)", e.Code, e.Message, e.Collection, e.Field)
	case e.Collection != "":
		return fmt.Sprintf("%s: %s (collection=%s)", e.Code, e.Message, e.Collection)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of err, or "" if err is not an engine error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsAlreadyExists returns true if err is an ALREADY_EXISTS error.
func IsAlreadyExists(err error) bool { return CodeOf(err) == CodeAlreadyExists }

// IsInvalidStateTransition returns true if err is an INVALID_STATE_TRANSITION error.
func IsInvalidStateTransition(err error) bool { return CodeOf(err) == CodeInvalidStateTransition }

// IsUnauthorized returns true if err is an UNAUTHORIZED error.
func IsUnauthorized(err error) bool { return CodeOf(err) == CodeUnauthorized }

// IsValidationFailed returns true if err is a VALIDATION_FAILED error.
func IsValidationFailed(err error) bool { return CodeOf(err) == CodeValidationFailed }

// NotFound creates a NOT_FOUND error for a document.
func NotFound(collection, id string) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    "document not found",
		Collection: collection,
		DocumentID: id,
	}
}

// AlreadyExists creates an ALREADY_EXISTS error for a unique index value.
func AlreadyExists(collection, field, value string) *Error {
	return &Error{
		Code:       CodeAlreadyExists,
		Message:    fmt.Sprintf("value %q is already taken", value),
		Collection: collection,
		Field:      field,
	}
}

// InvalidTransition creates an INVALID_STATE_TRANSITION error.
func InvalidTransition(track, from, to string) *Error {
	return &Error{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("%s: cannot go from %s to %s", track, from, to),
	}
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a VALIDATION_FAILED error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// WithDocument returns a copy of e located at collection/id.
func (e *Error) WithDocument(collection, id string) *Error {
	cp := *e
	cp.Collection = collection
	cp.DocumentID = id
	return &cp
}
