// Package apperr classifies request failures so that HTTP handlers can map them to a
// status code without leaking upstream detail to callers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the failure class of an Error.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindForbidden
	KindUnconfigured
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "forbidden"
	case KindUnconfigured:
		return "unconfigured"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Msg is safe to show to callers for 4xx kinds;
// Err carries the internal cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func BadRequest(msg string) error   { return &Error{Kind: KindBadRequest, Msg: msg} }
func Forbidden(msg string) error    { return &Error{Kind: KindForbidden, Msg: msg} }
func Unconfigured(msg string) error { return &Error{Kind: KindUnconfigured, Msg: msg} }

// Upstream wraps a failure returned by the commerce platform.
func Upstream(msg string, err error) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of err; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int { return KindOf(err).Status() }

// PublicMessage is the text a caller may see. 5xx kinds never expose their cause.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind.Status() < http.StatusInternalServerError && ae.Msg != "" {
		return ae.Msg
	}
	return http.StatusText(http.StatusInternalServerError)
}
