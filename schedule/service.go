// service.go - Session lifecycle under the engine's serialization discipline.
//
// Conflict checking followed by a separate insert is a check-then-act
// race: two operators booking the same instructor at the same moment
// must not both pass. Create and Reschedule therefore run the check and
// the write inside one store transaction.
package schedule

import (
	"context"
	"time"

	"github.com/warp/club-engine/club"
)

// Service creates, reschedules and transitions sessions.
type Service struct {
	store club.Store
	clock club.Clock
}

func NewService(store club.Store, clock club.Clock) *Service {
	return &Service{store: store, clock: clock}
}

// Create builds a session from params, verifies the slot is free and
// persists it, all in one transaction. A conflicting slot surfaces as
// *club.ScheduleConflictError.
func (s *Service) Create(ctx context.Context, p Params) (*club.Session, error) {
	var created *club.Session
	err := s.store.WithTx(ctx, func(tx club.Store) error {
		session, err := NewFactory(tx, s.clock).NewSession(ctx, p)
		if err != nil {
			return err
		}
		conflict, err := NewDetector(tx).CheckConflict(ctx, Proposal{
			Instructor: session.Instructor,
			Room:       session.Room,
			Start:      session.StartAt,
			Duration:   session.Duration,
		})
		if err != nil {
			return err
		}
		if conflict != nil {
			return conflict
		}
		if err := tx.SaveSession(ctx, *session); err != nil {
			return err
		}
		created = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Reschedule moves a SCHEDULED session to a new slot (and optionally a
// new instructor or room), re-running conflict detection with the
// session itself excluded.
func (s *Service) Reschedule(ctx context.Context, id club.SessionID, start time.Time, duration time.Duration, instructor club.InstructorID, room club.RoomID) (*club.Session, error) {
	var updated *club.Session
	err := s.store.WithTx(ctx, func(tx club.Store) error {
		session, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return &club.NotFoundError{Kind: "session", ID: string(id)}
		}
		if session.Status != club.SessionScheduled {
			return &club.StateError{Op: "reschedule session", Current: string(session.Status)}
		}

		if !start.IsZero() {
			session.StartAt = start.UTC()
		}
		if duration > 0 {
			session.Duration = duration
		}
		if instructor != "" {
			session.Instructor = instructor
		}
		if room != "" {
			session.Room = room
		}

		conflict, err := NewDetector(tx).CheckConflict(ctx, Proposal{
			Instructor: session.Instructor,
			Room:       session.Room,
			Start:      session.StartAt,
			Duration:   session.Duration,
			Exclude:    session.ID,
		})
		if err != nil {
			return err
		}
		if conflict != nil {
			return conflict
		}

		session.UpdatedAt = s.clock.Now()
		if err := tx.SaveSession(ctx, *session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStatus advances a session's status. Status is monotonic except
// CANCELLED, which is terminal from any non-COMPLETED state. Cancelling
// a session also cancels its CONFIRMED reservations and refunds the
// entitlements they charged, in the same transaction.
func (s *Service) SetStatus(ctx context.Context, id club.SessionID, to club.SessionStatus) error {
	return s.store.WithTx(ctx, func(tx club.Store) error {
		session, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if session == nil {
			return &club.NotFoundError{Kind: "session", ID: string(id)}
		}
		if !club.CanTransitionSession(session.Status, to) {
			return &club.StateError{Op: "transition session to " + string(to), Current: string(session.Status)}
		}

		ok, err := tx.TransitionSession(ctx, id, session.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return club.ErrSerialization
		}

		if to != club.SessionCancelled {
			return nil
		}

		// Session cancellation releases every confirmed seat.
		reservations, err := tx.ReservationsBySession(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		for _, r := range reservations {
			if r.Status != club.ReservationConfirmed {
				continue
			}
			moved, err := tx.TransitionReservation(ctx, r.ID, club.ReservationConfirmed, club.ReservationCancelled, &now)
			if err != nil {
				return err
			}
			if moved {
				if err := tx.CreditEntitlement(ctx, r.Entitlement); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// SessionsInRange is a pure read for schedule displays.
func (s *Service) SessionsInRange(ctx context.Context, from, to time.Time, filter club.SessionFilter) ([]club.Session, error) {
	return s.store.SessionsInRange(ctx, from, to, filter)
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id club.SessionID) (*club.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &club.NotFoundError{Kind: "session", ID: string(id)}
	}
	return session, nil
}
