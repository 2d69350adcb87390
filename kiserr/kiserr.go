// Package kiserr defines the error taxonomy surfaced by the Broker Client
// and propagated through the rest of the core (spec §7). Each error is an
// *Error tagged with a Kind; its Unwrap and Is methods let errors.Is/As
// work across a fmt.Errorf %w chain, the same plain wrapping idiom the
// teacher uses everywhere.
package kiserr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy values a caller can match on.
type Kind string

const (
	// Transport covers network/timeout failures. Retried by the Broker
	// Client; once retries are spent it reaches callers as Transport (it
	// is not converted to Unavailable).
	Transport Kind = "transport_error"
	// Auth means the bearer token was rejected.
	Auth Kind = "auth_error"
	// RateLimited means the broker returned HTTP 429.
	RateLimited Kind = "rate_limited"
	// BrokerReject means a 4xx (other than 429) with a body.
	BrokerReject Kind = "broker_reject"
	// InvalidResponse means the response body didn't match the expected
	// schema.
	InvalidResponse Kind = "invalid_response"
	// Unavailable means "no data because the market is closed" as opposed
	// to Empty ("no data because nothing matched").
	Unavailable Kind = "unavailable"
	// Empty means the broker successfully returned zero rows.
	Empty Kind = "empty"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "current_price"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, kiserr.Sentinel(kiserr.Transport)) match any
// *Error of the same Kind by comparing Kind fields, not identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a tagged Error.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf reports which taxonomy Kind, if any, wraps err.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel returns a bare sentinel Error of the given kind, suitable for
// errors.Is(err, kiserr.Sentinel(kiserr.RateLimited)) style matching.
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}
