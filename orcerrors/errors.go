// SPDX-License-Identifier: LGPL-3.0-or-later

// Package orcerrors defines the structured failure taxonomy used across
// the store, hypervisor, and orchestrator layers. Every error that
// crosses a layer boundary is, or wraps, an *Error carrying a stable
// Kind.
package orcerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable error-classification token. It is never renamed or
// reused for a different meaning: clients match on it.
type Kind string

const (
	NotFound        Kind = "NotFound"
	NoVMAvailable   Kind = "NoVMAvailable"
	InvalidState    Kind = "InvalidState"
	Timeout         Kind = "Timeout"
	HypervisorError Kind = "HypervisorError"
	Conflict        Kind = "Conflict"
	BadRequest      Kind = "BadRequest"
	Internal        Kind = "Internal"
)

// httpStatus maps each Kind to the HTTP status handlers respond with.
var httpStatus = map[Kind]int{
	NotFound:        http.StatusNotFound,
	NoVMAvailable:   http.StatusServiceUnavailable,
	InvalidState:    http.StatusConflict,
	Timeout:         http.StatusGatewayTimeout,
	HypervisorError: http.StatusInternalServerError,
	Conflict:        http.StatusConflict,
	BadRequest:      http.StatusBadRequest,
	Internal:        http.StatusInternalServerError,
}

// Error is the structured failure type propagated out of the store,
// hypervisor adapter, and orchestrator.
type Error struct {
	Kind    Kind
	Message string
	// Detail carries kind-specific structured data, e.g. InvalidState's
	// {current, expected} pair.
	Detail map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status code this error's Kind maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying error, preserving it for Unwrap.
// If err already is or wraps an *Error, that *Error is returned
// unchanged and keeps its own Kind.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Kind: kind, cause: err}
}

// InvalidStateError builds the InvalidState error with the {current,
// expected} detail pair handlers flatten into the response body.
func InvalidStateError(current, expected string) *Error {
	return &Error{
		Kind:    InvalidState,
		Message: fmt.Sprintf("invalid state: is %s, expected %s", current, expected),
		Detail:  map[string]string{"current": current, "expected": expected},
	}
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// never passed through New/Wrap.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
