/*
errors.go - Centralized error types for the accrual engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers decide defaults explicitly: a fallible lookup returns one of
  these errors rather than silently substituting a fallback value.

ERROR CATEGORIES:
  1. Validation errors - invalid timezone, unknown member
  2. Transient infrastructure errors - lock contention, timeouts
  3. Invariant violations - resetting a member that does not exist

USAGE:
  if errors.Is(err, engine.ErrInvalidTimezone) {
      // reject with a clear validation message
  }

SEE ALSO:
  - timezone.go: returns ErrInvalidTimezone from ValidateZone
  - session.go:  returns ErrNoOpenInterval from End
  - store.go:    store implementations return ErrUnknownMember et al.
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownMember is returned when a referenced member does not exist.
	ErrUnknownMember = errors.New("member not found")

	// ErrUnknownTeam is returned when a referenced team does not exist.
	ErrUnknownTeam = errors.New("team not found")

	// ErrInvalidTimezone is returned when a timezone string fails
	// validation at the point a member sets it. Lookups never return this;
	// they fall back to the reference zone instead.
	ErrInvalidTimezone = errors.New("invalid or unsupported timezone")

	// ErrNoOpenInterval is returned when ending a session for a
	// (member, channel) pair with no open presence interval.
	ErrNoOpenInterval = errors.New("no open presence interval")

	// ErrLockContention is returned when an advisory lock cannot be
	// acquired before the context deadline. Retryable.
	ErrLockContention = errors.New("advisory lock contention")

	// ErrIntervalClosed is returned when closing an already-closed interval.
	ErrIntervalClosed = errors.New("presence interval already closed")

	// ErrDuplicateOpenInterval is returned when opening a second interval
	// for a (member, channel) pair that already has one open. Callers are
	// expected to check first; hitting this is an invariant violation.
	ErrDuplicateOpenInterval = errors.New("open presence interval already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TimezoneError reports why a timezone string was rejected.
type TimezoneError struct {
	Zone   string
	Reason string
}

func (e *TimezoneError) Error() string {
	return fmt.Sprintf("timezone %q rejected: %s", e.Zone, e.Reason)
}

func (e *TimezoneError) Unwrap() error { return ErrInvalidTimezone }

// ResetError records one failed member reset with enough context to be
// replayed manually. Collected by the scheduler, never fatal to a batch.
type ResetError struct {
	MemberID  MemberID
	Zone      string
	Operation string // "daily", "monthly", "global"
	At        time.Time
	Err       error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("%s reset failed for member %s (zone %s): %v",
		e.Operation, e.MemberID, e.Zone, e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockContention)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTimezone) ||
		errors.Is(err, ErrNoOpenInterval)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownMember) ||
		errors.Is(err, ErrUnknownTeam)
}
