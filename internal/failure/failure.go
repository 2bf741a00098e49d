// Package failure classifies provider errors so that the orchestrator alone
// decides between retrying, failing a step and skipping its dependents.
package failure

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
)

func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "permanent"
}

type Reason string

const (
	ReasonRateLimited   Reason = "rate-limited"
	ReasonTimeout       Reason = "timeout"
	ReasonNotYetVisible Reason = "not-yet-visible"
	ReasonUnavailable   Reason = "unavailable"
	ReasonConflict      Reason = "conflict"
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonInvalidInput  Reason = "invalid-input"
	ReasonNotFound      Reason = "not-found"
	ReasonUnknown       Reason = "unknown"
)

// Error is the typed error returned across the adapter boundary.
type Error struct {
	Kind   Kind
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Reason, e.Kind)
	}
	return fmt.Sprintf("%s: %v (%s, %s)", e.Op, e.Err, e.Reason, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, reason Reason, err error) error {
	return &Error{Kind: KindTransient, Reason: reason, Op: op, Err: err}
}

func Permanent(op string, reason Reason, err error) error {
	return &Error{Kind: KindPermanent, Reason: reason, Op: op, Err: err}
}

// Conflict reports an existing resource that matches the derived name but not
// the requested configuration. It is never retried and never auto-resolved.
func Conflict(op, format string, args ...any) error {
	return Permanent(op, ReasonConflict, fmt.Errorf(format, args...))
}

func NotFound(op, format string, args ...any) error {
	return Permanent(op, ReasonNotFound, fmt.Errorf(format, args...))
}

func InvalidInput(op, format string, args ...any) error {
	return Permanent(op, ReasonInvalidInput, fmt.Errorf(format, args...))
}

func Unauthorized(op string, err error) error {
	return Permanent(op, ReasonUnauthorized, err)
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsTransient reports whether err is worth retrying. Unclassified errors are
// treated as permanent.
func IsTransient(err error) bool {
	fe, ok := As(err)
	return ok && fe.Kind == KindTransient
}

func HasReason(err error, reason Reason) bool {
	fe, ok := As(err)
	return ok && fe.Reason == reason
}

func IsNotFound(err error) bool {
	return HasReason(err, ReasonNotFound)
}

func IsConflict(err error) bool {
	return HasReason(err, ReasonConflict)
}
