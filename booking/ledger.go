/*
Package booking owns the reservation lifecycle: taking a seat, giving it
back, and proving attendance. This is the part of the engine where the
races live.

RESERVE, ATOMICALLY:
  Reserve must check capacity, check the (client, session) uniqueness,
  find and debit the covering entitlement, and insert the reservation as
  one unit. Two concurrent Reserve calls on a session with one seat left
  must not both succeed. The ledger runs the whole sequence inside
  store.WithTx; the store backs it with a unique index on
  (client, session), a CHECK on the visit counter and a guarded
  decrement, so the invariants hold even against a second process.

RETRIES:
  Storage-level serialization conflicts are retried transparently a
  bounded number of times before surfacing as a conflict to the caller.

CANCELLATION WINDOW:
  A reservation can be cancelled while CONFIRMED and at least 24 hours
  before the session starts. CanCancel exposes the same rule read-only
  for UI display.

SEE ALSO:
  - club/store.go: the atomicity contract this package leans on
  - sweep/: the time-driven transitions (NO_SHOW, COMPLETED)
*/
package booking

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/notify"
)

// CancelWindow is how long before session start a client may still
// cancel and get the visit refunded.
const CancelWindow = 24 * time.Hour

// maxRetries bounds transparent retries of serialization conflicts.
const maxRetries = 3

// Ledger manages reservations and visits over a Store.
type Ledger struct {
	store    club.Store
	clock    club.Clock
	notifier notify.Notifier
}

func NewLedger(store club.Store, clock club.Clock, notifier notify.Notifier) *Ledger {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Ledger{store: store, clock: clock, notifier: notifier}
}

// withRetry runs fn, retrying bounded times on storage serialization
// conflicts. Exhausted retries surface as a capacity-style conflict so
// the caller sees one error kind for "try again".
func (l *Ledger) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if !club.IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return club.ErrConflict
}

// Reserve books one seat on a session for a client.
//
// Preconditions, checked in order, each its own failure kind:
//  1. session exists and is SCHEDULED
//  2. session starts in the future
//  3. capacity minus seats taken is positive
//  4. client has no reservation for this session
//  5. an ACTIVE entitlement covers the session date
//  6. that entitlement has visits remaining (or is unlimited)
//
// On success the reservation is CONFIRMED and the entitlement counter,
// if finite, is one lower, atomically.
func (l *Ledger) Reserve(ctx context.Context, client club.ClientID, sessionID club.SessionID, notes string) (*club.Reservation, error) {
	if client == "" {
		return nil, &club.ValidationError{Field: "client", Message: "required"}
	}

	var reservation *club.Reservation
	var session *club.Session
	err := l.withRetry(ctx, func() error {
		return l.store.WithTx(ctx, func(tx club.Store) error {
			var err error
			session, err = tx.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if session == nil {
				return &club.NotFoundError{Kind: "session", ID: string(sessionID)}
			}
			if session.Status != club.SessionScheduled {
				return &club.StateError{Op: "reserve", Current: string(session.Status)}
			}

			now := l.clock.Now()
			if !session.StartAt.After(now) {
				return &club.StateError{Op: "reserve", Reason: "session has already started"}
			}

			taken, err := tx.CountSeatsTaken(ctx, sessionID)
			if err != nil {
				return err
			}
			if session.Capacity-taken <= 0 {
				return &club.CapacityError{Session: sessionID, Capacity: session.Capacity}
			}

			existing, err := tx.ReservationFor(ctx, client, sessionID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &club.DuplicateReservationError{Client: client, Session: sessionID}
			}

			sessionDate := club.DateOf(session.StartAt)
			ent, err := tx.FindCovering(ctx, client, sessionDate)
			if err != nil {
				return err
			}
			if ent == nil {
				return &club.EntitlementError{Client: client, Date: sessionDate, Reason: club.EntitlementNone}
			}
			if !ent.Unlimited() && *ent.Remaining <= 0 {
				return &club.EntitlementError{Client: client, Date: sessionDate, Reason: club.EntitlementNoVisits, Remaining: ent.Remaining}
			}

			r := club.Reservation{
				ID:          club.ReservationID(uuid.NewString()),
				Client:      client,
				Session:     sessionID,
				Entitlement: ent.ID,
				Status:      club.ReservationConfirmed,
				Notes:       notes,
				CreatedAt:   now,
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			if err := tx.DebitEntitlement(ctx, ent.ID); err != nil {
				return err
			}
			reservation = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.emit(ctx, notify.EventBookingConfirmed, notify.Payload{
		"client_id":  string(client),
		"session_id": string(sessionID),
		"start_at":   session.StartAt.Format(time.RFC3339),
	})
	return reservation, nil
}

// Cancel releases a CONFIRMED reservation at least CancelWindow before
// the session starts, refunding the charged entitlement atomically with
// the status change.
func (l *Ledger) Cancel(ctx context.Context, id club.ReservationID, actor string) error {
	return l.withRetry(ctx, func() error {
		return l.store.WithTx(ctx, func(tx club.Store) error {
			r, err := tx.GetReservation(ctx, id)
			if err != nil {
				return err
			}
			if r == nil {
				return &club.NotFoundError{Kind: "reservation", ID: string(id)}
			}
			if r.Status != club.ReservationConfirmed {
				return &club.StateError{Op: "cancel reservation", Current: string(r.Status)}
			}

			session, err := tx.GetSession(ctx, r.Session)
			if err != nil {
				return err
			}
			if session == nil {
				return &club.NotFoundError{Kind: "session", ID: string(r.Session)}
			}

			now := l.clock.Now()
			if session.StartAt.Sub(now) < CancelWindow {
				return &club.StateError{Op: "cancel reservation", Reason: "cancellation closes 24 hours before the session"}
			}

			ok, err := tx.TransitionReservation(ctx, id, club.ReservationConfirmed, club.ReservationCancelled, &now)
			if err != nil {
				return err
			}
			if !ok {
				// Status moved under us; re-read on retry.
				return club.ErrSerialization
			}
			return tx.CreditEntitlement(ctx, r.Entitlement)
		})
	})
}

// CanCancel reports whether Cancel would currently succeed: status is
// CONFIRMED and the session starts in at least CancelWindow.
func (l *Ledger) CanCancel(ctx context.Context, id club.ReservationID) (bool, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, &club.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if r.Status != club.ReservationConfirmed {
		return false, nil
	}
	session, err := l.store.GetSession(ctx, r.Session)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}
	return session.StartAt.Sub(l.clock.Now()) >= CancelWindow, nil
}

// RecordVisit marks attendance: creates the visit and completes the
// reservation in one transaction. A second visit for the same
// reservation fails, it never duplicates.
func (l *Ledger) RecordVisit(ctx context.Context, id club.ReservationID, actor string) (*club.Visit, error) {
	var visit *club.Visit
	err := l.withRetry(ctx, func() error {
		return l.store.WithTx(ctx, func(tx club.Store) error {
			r, err := tx.GetReservation(ctx, id)
			if err != nil {
				return err
			}
			if r == nil {
				return &club.NotFoundError{Kind: "reservation", ID: string(id)}
			}
			if r.Status != club.ReservationConfirmed {
				return &club.StateError{Op: "record visit", Current: string(r.Status)}
			}

			existing, err := tx.GetVisitByReservation(ctx, id)
			if err != nil {
				return err
			}
			if existing != nil {
				return &club.StateError{Op: "record visit", Reason: "visit already recorded"}
			}

			v := club.Visit{
				ID:          club.VisitID(uuid.NewString()),
				Reservation: id,
				RecordedAt:  l.clock.Now(),
				RecordedBy:  actor,
			}
			if err := tx.InsertVisit(ctx, v); err != nil {
				return err
			}
			ok, err := tx.TransitionReservation(ctx, id, club.ReservationConfirmed, club.ReservationCompleted, nil)
			if err != nil {
				return err
			}
			if !ok {
				return club.ErrSerialization
			}
			visit = &v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return visit, nil
}

// AvailableSpots recomputes free capacity from the live reservation
// count. Never stored.
func (l *Ledger) AvailableSpots(ctx context.Context, sessionID club.SessionID) (int, error) {
	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session == nil {
		return 0, &club.NotFoundError{Kind: "session", ID: string(sessionID)}
	}
	taken, err := l.store.CountSeatsTaken(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	spots := session.Capacity - taken
	if spots < 0 {
		spots = 0
	}
	return spots, nil
}

// ByClient returns a client's reservations, optionally filtered by status.
func (l *Ledger) ByClient(ctx context.Context, client club.ClientID, status *club.ReservationStatus) ([]club.Reservation, error) {
	return l.store.ReservationsByClient(ctx, client, status)
}

// BySession returns all reservations on a session.
func (l *Ledger) BySession(ctx context.Context, session club.SessionID) ([]club.Reservation, error) {
	return l.store.ReservationsBySession(ctx, session)
}

// Get returns a reservation by ID.
func (l *Ledger) Get(ctx context.Context, id club.ReservationID) (*club.Reservation, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &club.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	return r, nil
}

// emit fires a notification request; failures are logged, never returned.
func (l *Ledger) emit(ctx context.Context, event notify.Event, payload notify.Payload) {
	if err := l.notifier.Notify(ctx, event, payload); err != nil {
		log.Printf("[Booking] notify %s failed: %v", event, err)
	}
}
