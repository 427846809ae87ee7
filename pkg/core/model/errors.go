package model

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. The request is rejected before
// any state change; the caller should fix the input, not retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a state conflict: an availability clash, a lost
// acceptance race, or a stale offer. It means "try a different action",
// not "fix your input".
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// ErrOfferAlreadyResolved is returned to the loser of an acceptance race,
// or to any acceptance attempt against an offer that is no longer pending.
var ErrOfferAlreadyResolved = &ConflictError{Reason: "offer already resolved"}

// GeofenceViolation reports a check-in attempted outside the venue's
// geofence. It carries the measured distance for user-facing messaging.
type GeofenceViolation struct {
	DistanceM float64
	RadiusM   float64
}

func (e *GeofenceViolation) Error() string {
	return fmt.Sprintf("too far from venue: %.0fm away, geofence radius %.0fm", e.DistanceM, e.RadiusM)
}

// NotFoundError reports that a shift or offer no longer exists.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TimeoutError wraps a collaborator timeout. Treated as transient: the
// engine retries idempotent reads once, never state-mutating calls.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a state machine precondition failure,
// identifying the offending transition.
type InvalidTransitionError struct {
	From   ShiftStatus
	To     ShiftStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition shift from %s to %s: %s", e.From, e.To, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsGeofenceViolation reports whether err is (or wraps) a GeofenceViolation.
func IsGeofenceViolation(err error) bool {
	var ge *GeofenceViolation
	return errors.As(err, &ge)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
