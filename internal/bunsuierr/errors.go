// Package bunsuierr defines the error taxonomy shared by every adapter and
// the session manager: a single Kind enum plus a struct carrying the
// context needed to decide whether an operation is worth retrying.
package bunsuierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the session manager
// and adapters reason about when deciding whether to retry, surface to the
// caller, or treat as a configuration mistake.
type Kind string

const (
	Validation         Kind = "validation"
	Session            Kind = "session"
	Auth               Kind = "auth"
	Throttling         Kind = "throttling"
	Timeout            Kind = "timeout"
	ServiceUnavailable Kind = "service_unavailable"
	ResourceNotFound   Kind = "resource_not_found"
	Configuration      Kind = "configuration"
)

// Error is the concrete error type returned from every package in this
// module. Service is populated by adapters translating a cloud SDK error;
// Code is the upstream error code when one exists. RetryAfter is not set by
// this module's adapters and is not read by retry.BackoffPolicy.Do.
type Error struct {
	Kind       Kind
	Service    string
	Operation  string
	Code       string
	Message    string
	RetryAfter float64 // seconds; only meaningful when Kind == Throttling
	Cause      error
}

func (e *Error) Error() string {
	if e.Service != "" || e.Operation != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Kind, e.Service, e.Operation, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error kind is one an adapter should retry
// with backoff rather than propagate immediately.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case Throttling, Timeout, ServiceUnavailable:
		return true
	default:
		return false
	}
}

func New(kind Kind, service, operation, message string) *Error {
	return &Error{Kind: kind, Service: service, Operation: operation, Message: message}
}

func Wrap(kind Kind, service, operation string, cause error) *Error {
	return &Error{Kind: kind, Service: service, Operation: operation, Message: cause.Error(), Cause: cause}
}

// Sentinels for the non-retryable kinds that callers commonly compare
// against with errors.Is; adapters wrap these rather than constructing a
// bare *Error when no extra context is available.
var (
	ErrValidation       = &Error{Kind: Validation, Message: "validation failed"}
	ErrSessionNotFound  = &Error{Kind: ResourceNotFound, Message: "session not found"}
	ErrPipelineNotFound = &Error{Kind: ResourceNotFound, Message: "pipeline not found"}
	ErrInvalidTransition = &Error{Kind: Session, Message: "invalid state transition"}
	ErrAuth             = &Error{Kind: Auth, Message: "not authorized"}
	ErrConfiguration    = &Error{Kind: Configuration, Message: "invalid configuration"}
)

// Is lets sentinels compare by Kind+Message rather than pointer identity,
// since adapters construct fresh *Error values carrying extra context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || e.Message == t.Message)
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
