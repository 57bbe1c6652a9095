/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error kinds in one place so every caller branches the same way.
  Domain packages wrap these with context; the API layer maps them to
  HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - malformed or out-of-range input
  2. Conflict errors   - schedule overlap, double reservation, full session
  3. Entitlement errors - no covering grant, exhausted, inactive
  4. State errors      - operation invalid for the current status
  5. Not found / serialization - missing rows, storage-level contention

USAGE:
  if errors.Is(err, club.ErrConflict) { ... }

  var sc *club.ScheduleConflictError
  if errors.As(err, &sc) {
      // sc.Resource tells instructor-busy from room-busy
  }
*/
package club

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the root of all contention failures: schedule
	// overlaps, full sessions and duplicate reservations.
	ErrConflict = errors.New("conflict")

	// ErrEntitlement is the root of all prepaid-access failures.
	ErrEntitlement = errors.New("entitlement unavailable")

	// ErrState is returned when an operation is invalid for the current
	// status, e.g. cancelling a CANCELLED reservation.
	ErrState = errors.New("invalid state for operation")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSerialization is returned by the store when a write lost a race
	// (busy database, concurrent transaction). Callers retry a bounded
	// number of times before surfacing ErrConflict.
	ErrSerialization = errors.New("storage serialization conflict")

	// ErrDuplicateReservation is returned by the store when the
	// (client, session) uniqueness constraint rejects an insert.
	ErrDuplicateReservation = errors.New("client already has a reservation for this session")

	// ErrVisitExists is returned by the store when a second visit is
	// recorded for the same reservation.
	ErrVisitExists = errors.New("visit already recorded for this reservation")

	// ErrEntitlementExhausted is returned when a debit would take a
	// finite visit counter below zero.
	ErrEntitlementExhausted = errors.New("no visits remaining on entitlement")
)

// =============================================================================
// STRUCTURED ERRORS - Carry user-presentable context
// =============================================================================

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing row by kind and ID.
type NotFoundError struct {
	Kind string // "session", "reservation", "room", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CapacityError reports a full session.
type CapacityError struct {
	Session  SessionID
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no available spots: session %s is at capacity (%d)", e.Session, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrConflict }

// ConflictResource identifies which shared resource a schedule conflict
// was detected on.
type ConflictResource string

const (
	ConflictInstructor ConflictResource = "instructor"
	ConflictRoom       ConflictResource = "room"
)

// ScheduleConflictError reports a temporal overlap with an existing
// active session. Resource and ResourceID let callers render
// instructor-busy and room-busy messages distinctly.
type ScheduleConflictError struct {
	Resource   ConflictResource
	ResourceID string
	Session    SessionID // the existing session that conflicts
	Start      time.Time
	End        time.Time
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("%s %s is busy: session %s occupies %s - %s",
		e.Resource, e.ResourceID, e.Session,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ScheduleConflictError) Unwrap() error { return ErrConflict }

// DuplicateReservationError reports a second reservation attempt for the
// same (client, session) pair.
type DuplicateReservationError struct {
	Client  ClientID
	Session SessionID
}

func (e *DuplicateReservationError) Error() string {
	return fmt.Sprintf("client %s already holds a reservation for session %s", e.Client, e.Session)
}

func (e *DuplicateReservationError) Unwrap() error { return ErrDuplicateReservation }

// Is lets errors.Is(err, ErrConflict) match through the duplicate sentinel.
func (e *DuplicateReservationError) Is(target error) bool {
	return target == ErrConflict || target == ErrDuplicateReservation
}

// EntitlementReason classifies why a reservation could not charge a grant.
type EntitlementReason string

const (
	EntitlementNone     EntitlementReason = "no_covering_entitlement"
	EntitlementNoVisits EntitlementReason = "exhausted"
	EntitlementInactive EntitlementReason = "inactive"
)

// EntitlementError reports why a client's prepaid access did not cover a
// reservation, with enough detail for a specific user message.
type EntitlementError struct {
	Client    ClientID
	Date      time.Time
	Reason    EntitlementReason
	Remaining *int
}

func (e *EntitlementError) Error() string {
	switch e.Reason {
	case EntitlementNoVisits:
		return fmt.Sprintf("entitlement for client %s has no visits remaining", e.Client)
	case EntitlementInactive:
		return fmt.Sprintf("entitlement for client %s is not active on %s", e.Client, e.Date.Format("2006-01-02"))
	default:
		return fmt.Sprintf("client %s has no entitlement covering %s", e.Client, e.Date.Format("2006-01-02"))
	}
}

func (e *EntitlementError) Unwrap() error { return ErrEntitlement }

// StateError reports an operation attempted against an incompatible
// current status.
type StateError struct {
	Op      string
	Current string
	Reason  string
}

func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("cannot %s in status %s", e.Op, e.Current)
}

func (e *StateError) Unwrap() error { return ErrState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization)
}

// IsClientError returns true if the error is due to the caller's request
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrEntitlement) ||
		errors.Is(err, ErrState) ||
		errors.Is(err, ErrNotFound)
}
