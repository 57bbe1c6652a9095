/*
Package club provides the core data model and storage contract for the
club scheduling and reservation engine.

PURPOSE:
  This package contains the shared vocabulary every other package speaks:
  sessions on the schedule, reservations against those sessions, visits
  proving attendance, and entitlements (prepaid access grants) that
  reservations charge. It has no behavior of its own beyond small state
  machine helpers; the algorithms live in schedule/, booking/,
  entitlement/ and sweep/.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: a scheduled activity bound to an instructor, room and window
  - Reservation: a client's claim on one seat of a Session
  - Visit: attendance proof, at most one per Reservation
  - Entitlement: a prepaid access grant with an optional visit counter
  - Catalog types: ActivityType, Room, Instructor, Plan

DESIGN PRINCIPLES:
  1. Derived capacity: available spots are always recomputed from the
     live reservation count, never stored.
  2. Terminal states: CANCELLED, COMPLETED and NO_SHOW reservations
     never transition again.
  3. Type safety: strong ID types prevent mixing client/session/room IDs.

SEE ALSO:
  - store.go: The persistence contract all of the above flow through
  - errors.go: The error taxonomy callers branch on
*/
package club

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ClientID       string
	SessionID      string
	ReservationID  string
	VisitID        string
	EntitlementID  string
	InstructorID   string
	RoomID         string
	ActivityTypeID string
	PlanID         string
)

// =============================================================================
// SESSION - A scheduled activity instance
// =============================================================================

type SessionStatus string

const (
	SessionScheduled  SessionStatus = "SCHEDULED"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionCancelled  SessionStatus = "CANCELLED"
)

// Session is a single scheduled activity instance.
// Invariant: Capacity >= 1, Duration > 0.
type Session struct {
	ID           SessionID
	ActivityType ActivityTypeID
	Instructor   InstructorID
	Room         RoomID
	StartAt      time.Time
	Duration     time.Duration
	Capacity     int
	Status       SessionStatus
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EndAt returns the exclusive end of the session's time window.
func (s Session) EndAt() time.Time {
	return s.StartAt.Add(s.Duration)
}

// Active reports whether the session occupies its instructor and room.
// Only active sessions participate in conflict detection.
func (s Session) Active() bool {
	return s.Status == SessionScheduled || s.Status == SessionInProgress
}

// sessionRank gives the monotonic ordering of non-terminal statuses.
var sessionRank = map[SessionStatus]int{
	SessionScheduled:  0,
	SessionInProgress: 1,
	SessionCompleted:  2,
}

// CanTransitionSession reports whether a session status change is legal.
// Status advances monotonically; CANCELLED is terminal and reachable from
// any non-COMPLETED state.
func CanTransitionSession(from, to SessionStatus) bool {
	if from == SessionCancelled || from == SessionCompleted {
		return false
	}
	if to == SessionCancelled {
		return true
	}
	fromRank, ok1 := sessionRank[from]
	toRank, ok2 := sessionRank[to]
	return ok1 && ok2 && toRank > fromRank
}

// =============================================================================
// RESERVATION - A client's claim on one seat
// =============================================================================

type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationNoShow    ReservationStatus = "NO_SHOW"
)

// SeatTaken reports whether a reservation in this status occupies a seat
// in the capacity computation.
func (s ReservationStatus) SeatTaken() bool {
	return s == ReservationConfirmed || s == ReservationCompleted
}

// Terminal reports whether the status admits no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationConfirmed
}

// Reservation is a client's claim on one seat of a session.
// Invariant: at most one reservation per (client, session) pair.
// Entitlement references the grant charged at creation so cancellation
// can refund the right counter.
type Reservation struct {
	ID             ReservationID
	Client         ClientID
	Session        SessionID
	Entitlement    EntitlementID
	Status         ReservationStatus
	Notes          string
	CreatedAt      time.Time
	CancelledAt    *time.Time
	ReminderSentAt *time.Time
}

// =============================================================================
// VISIT - Attendance proof, 1:1 with a reservation
// =============================================================================

type Visit struct {
	ID          VisitID
	Reservation ReservationID
	RecordedAt  time.Time
	RecordedBy  string
}

// =============================================================================
// ENTITLEMENT - Prepaid access grant
// =============================================================================

type EntitlementStatus string

const (
	EntitlementActive    EntitlementStatus = "ACTIVE"
	EntitlementExpired   EntitlementStatus = "EXPIRED"
	EntitlementSuspended EntitlementStatus = "SUSPENDED"
)

// Entitlement is a client's prepaid access grant. Remaining is nil for
// unlimited grants; when non-nil it is always >= 0 and moves by exactly
// one per reservation created or refunded.
type Entitlement struct {
	ID          EntitlementID
	Client      ClientID
	Plan        PlanID
	ValidFrom   time.Time // date precision
	ValidTo     time.Time // date precision, inclusive
	Status      EntitlementStatus
	Remaining   *int
	PurchasedAt time.Time
}

// Covers reports whether the entitlement's validity window contains the
// given date (date precision, inclusive on both ends).
func (e Entitlement) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(e.ValidFrom)) && !d.After(DateOf(e.ValidTo))
}

// Unlimited reports whether the grant has no visit counter.
func (e Entitlement) Unlimited() bool { return e.Remaining == nil }

// =============================================================================
// CATALOG - Read-mostly reference data
// =============================================================================

// ActivityType describes a kind of session (yoga, boxing, ...) together
// with the defaults the session factory applies.
type ActivityType struct {
	ID              ActivityTypeID
	Name            string
	Description     string
	DefaultDuration time.Duration
	DefaultCapacity int
	Active          bool
}

type Room struct {
	ID       RoomID
	Name     string
	Capacity int
	Active   bool
}

type Instructor struct {
	ID     InstructorID
	Name   string
	Active bool
}

// Plan is a purchasable entitlement template. The engine never prices or
// sells plans; the external purchase flow does. VisitLimit nil means the
// resulting entitlements are unlimited.
type Plan struct {
	ID           PlanID
	Name         string
	Price        decimal.Decimal
	DurationDays int
	VisitLimit   *int
	Active       bool
}

// =============================================================================
// TIME HELPERS
// =============================================================================

// DateOf truncates a time to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Overlaps reports whether two half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Boundary-touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
