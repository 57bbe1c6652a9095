/*
store.go - Persistence contract for the engine

PURPOSE:
  Defines the interface between domain logic and the database. A single
  Store carries all four tables (sessions, reservations, visits,
  entitlements) plus the catalog, because the engine's atomic units span
  them: a Reserve is a capacity check, an entitlement debit and a
  reservation insert in one transaction.

ATOMICITY CONTRACT:
  WithTx runs the given function inside one database transaction, and the
  implementation must serialize concurrent WithTx calls. Every
  check-then-act sequence in the engine (capacity-count-then-insert,
  conflict-check-then-create, status re-validation in sweeps) runs inside
  WithTx; this is the serialization point (see DESIGN.md) that makes the
  last-seat race impossible.

GUARDED WRITES:
  Mutations that re-validate state (TransitionReservation,
  DebitEntitlement, MarkReminderSent) report via their return value
  whether the guard held, so racing sweeps and user actions resolve to
  exactly one outcome.

IMPLEMENTATIONS:
  - store/sqlite: production store, also used in-memory for tests

SEE ALSO:
  - booking/ledger.go: the heaviest user of WithTx
  - store/sqlite/sqlite.go: concrete implementation
*/
package club

import (
	"context"
	"time"
)

// SessionFilter narrows SessionsInRange. Zero values mean "any".
type SessionFilter struct {
	Instructor InstructorID
	Room       RoomID
	Activity   ActivityTypeID
	Status     SessionStatus
}

// Store is the persistence contract. All methods return ErrNotFound
// (wrapped) only where documented; lookups of missing rows return
// (nil, nil) so callers can shape their own errors.
type Store interface {
	// WithTx executes fn within one transaction. If fn returns an error
	// the transaction is rolled back. Nested calls join the outer
	// transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// --- Sessions ---

	// GetSession returns the session or (nil, nil) when missing.
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	// SaveSession inserts or fully updates a session.
	SaveSession(ctx context.Context, s Session) error
	// TransitionSession advances status only if the current status still
	// matches from. Returns false when the guard fails.
	TransitionSession(ctx context.Context, id SessionID, from, to SessionStatus) (bool, error)
	// ActiveSessionsFor returns SCHEDULED and IN_PROGRESS sessions that
	// share the instructor or the room. Both resources are matched with
	// OR; the conflict detector narrows by time window.
	ActiveSessionsFor(ctx context.Context, instructor InstructorID, room RoomID) ([]Session, error)
	// SessionsInRange returns sessions with StartAt in [from, to).
	SessionsInRange(ctx context.Context, from, to time.Time, filter SessionFilter) ([]Session, error)

	// --- Reservations ---

	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	// ReservationFor returns the reservation for a (client, session)
	// pair in any status, or (nil, nil).
	ReservationFor(ctx context.Context, client ClientID, session SessionID) (*Reservation, error)
	// InsertReservation persists a new reservation. Returns
	// ErrDuplicateReservation when the (client, session) uniqueness
	// constraint rejects it.
	InsertReservation(ctx context.Context, r Reservation) error
	// CountSeatsTaken counts reservations holding a seat (CONFIRMED or
	// COMPLETED) for the session.
	CountSeatsTaken(ctx context.Context, session SessionID) (int, error)
	// TransitionReservation moves status only if the current status
	// still matches from, setting cancelledAt when non-nil.
	TransitionReservation(ctx context.Context, id ReservationID, from, to ReservationStatus, cancelledAt *time.Time) (bool, error)
	ReservationsByClient(ctx context.Context, client ClientID, status *ReservationStatus) ([]Reservation, error)
	ReservationsBySession(ctx context.Context, session SessionID) ([]Reservation, error)

	// Sweep queries. Windows are half-open [from, to) on session start.
	ReservationsDueReminder(ctx context.Context, from, to time.Time) ([]Reservation, error)
	// MarkReminderSent claims a reservation for reminder dispatch.
	// Returns false if it was already claimed or left CONFIRMED.
	MarkReminderSent(ctx context.Context, id ReservationID, at time.Time) (bool, error)
	// ConfirmedWithoutVisit returns CONFIRMED reservations with no visit
	// whose session starts in (from, to].
	ConfirmedWithoutVisit(ctx context.Context, from, to time.Time) ([]Reservation, error)
	// ConfirmedStartedBefore returns CONFIRMED reservations whose
	// session started before the cutoff.
	ConfirmedStartedBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)

	// --- Visits ---

	GetVisitByReservation(ctx context.Context, reservation ReservationID) (*Visit, error)
	// InsertVisit persists a visit. Returns ErrVisitExists when the
	// reservation already has one.
	InsertVisit(ctx context.Context, v Visit) error

	// --- Entitlements ---

	GetEntitlement(ctx context.Context, id EntitlementID) (*Entitlement, error)
	InsertEntitlement(ctx context.Context, e Entitlement) error
	// FindCovering returns the ACTIVE entitlement whose validity window
	// contains date, earliest expiry first, or (nil, nil).
	FindCovering(ctx context.Context, client ClientID, date time.Time) (*Entitlement, error)
	// DebitEntitlement decrements a finite counter by one. No-op for
	// unlimited grants; ErrEntitlementExhausted when the counter is zero.
	DebitEntitlement(ctx context.Context, id EntitlementID) error
	// CreditEntitlement increments a finite counter by one. No-op for
	// unlimited grants.
	CreditEntitlement(ctx context.Context, id EntitlementID) error
	// ExpireEntitlements moves ACTIVE grants with ValidTo before asOf to
	// EXPIRED and returns how many rows changed. Idempotent.
	ExpireEntitlements(ctx context.Context, asOf time.Time) (int, error)
	EntitlementsByClient(ctx context.Context, client ClientID) ([]Entitlement, error)
	// EntitlementsExpiringOn returns ACTIVE grants whose ValidTo equals
	// the given date (date precision).
	EntitlementsExpiringOn(ctx context.Context, date time.Time) ([]Entitlement, error)

	// --- Catalog ---

	GetActivityType(ctx context.Context, id ActivityTypeID) (*ActivityType, error)
	ListActivityTypes(ctx context.Context) ([]ActivityType, error)
	SaveActivityType(ctx context.Context, at ActivityType) error

	GetRoom(ctx context.Context, id RoomID) (*Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	SaveRoom(ctx context.Context, r Room) error

	GetInstructor(ctx context.Context, id InstructorID) (*Instructor, error)
	ListInstructors(ctx context.Context) ([]Instructor, error)
	SaveInstructor(ctx context.Context, i Instructor) error

	GetPlan(ctx context.Context, id PlanID) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	SavePlan(ctx context.Context, p Plan) error
}
