package billing

import (
	"errors"
	"fmt"
)

// Kind classifies billing failures so transports can map them consistently.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindAuthentication  Kind = "authentication_error"
	KindAuthorization   Kind = "authorization_error"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindSignature       Kind = "invalid_signature"
	KindExternalService Kind = "external_service_error"
	KindInternal        Kind = "internal_error"
)

// Error is the single error type returned by billing operations.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair reported back to the caller.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func NewAuthenticationError(format string, args ...any) *Error {
	return newError(KindAuthentication, nil, format, args...)
}

func NewAuthorizationError(format string, args ...any) *Error {
	return newError(KindAuthorization, nil, format, args...)
}

func NewNotFoundError(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func NewConflictError(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NewSignatureError(err error) *Error {
	return newError(KindSignature, err, "notification signature could not be verified")
}

func NewExternalServiceError(err error, format string, args ...any) *Error {
	return newError(KindExternalService, err, format, args...)
}

func NewInternalError(err error, format string, args ...any) *Error {
	return newError(KindInternal, err, format, args...)
}

// KindOf returns the kind of a billing error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a billing error of the given kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// isTerminalError reports whether retrying err cannot change the outcome.
func isTerminalError(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind != KindInternal
}
