// Package turnerr defines the closed set of terminal turn errors and their
// mapping to user-facing stream.error payloads. Reducer rejections are not
// errors (they are values, see pkg/reducer); everything here ends a turn.
package turnerr

import (
	"errors"
	"fmt"
)

// Kind tags a terminal turn error. The set is closed; the string values
// appear verbatim in stream.error events and telemetry records.
type Kind string

const (
	ProviderUnreachable      Kind = "Provider.Unreachable"
	ProviderRateLimited      Kind = "Provider.RateLimited"
	ProviderInvalidRequest   Kind = "Provider.InvalidRequest"
	ProviderOther            Kind = "Provider.Other"
	StreamTimeout            Kind = "Stream.Timeout"
	StreamParseFailureStreak Kind = "Stream.ParseFailureStreak"
	StreamCancelled          Kind = "Stream.Cancelled"
	StoreUnavailable         Kind = "Store.Unavailable"
	InternalBug              Kind = "Internal.Bug"
)

// Retryable reports whether the orchestrator may retry the pass once after a
// short backoff. Only transient provider conditions qualify.
func (k Kind) Retryable() bool {
	return k == ProviderUnreachable || k == ProviderRateLimited
}

// userMessages are the only strings that cross the wire to clients. Causes
// stay server-side in logs and telemetry.
var userMessages = map[Kind]string{
	ProviderUnreachable:      "The assistant is unreachable right now. Please try again.",
	ProviderRateLimited:      "The assistant is briefly over capacity. Please try again in a moment.",
	ProviderInvalidRequest:   "The assistant could not process this request.",
	ProviderOther:            "The assistant ran into an unexpected problem.",
	StreamTimeout:            "The assistant took too long to respond. Changes made so far were kept.",
	StreamParseFailureStreak: "The assistant produced unreadable output. Changes made so far were kept.",
	StreamCancelled:          "The request was cancelled.",
	StoreUnavailable:         "Your changes could not be saved. Please resend the message.",
	InternalBug:              "Something went wrong on our side.",
}

// Error is a terminal turn error: a kind, a user-safe message, and an
// optional wrapped cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the kind's canonical user-safe message.
func New(kind Kind) *Error {
	return &Error{Kind: kind, Message: userMessages[kind]}
}

// Wrap attaches a cause to a kinded error. The cause never reaches clients.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: userMessages[kind], Err: err}
}

// KindOf extracts the Kind from err, or InternalBug when err carries none.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return InternalBug
}

// UserMessage returns the client-safe message for err.
func UserMessage(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return userMessages[InternalBug]
}
