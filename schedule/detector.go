/*
Package schedule owns the session side of the engine: the conflict
detector that keeps two activities from double-booking an instructor or
a room, the factory that applies per-activity defaults, and the service
that creates, reschedules and transitions sessions.

KEY CONCEPTS IN THIS FILE (detector.go):
  - Detector: query-only overlap check over active sessions
  - Half-open windows: a session ending at 11:00 does not conflict with
    one starting at 11:00

SEE ALSO:
  - factory.go: default duration/capacity resolution
  - service.go: conflict-check-then-persist under one transaction
*/
package schedule

import (
	"context"
	"time"

	"github.com/warp/club-engine/club"
)

// Detector answers "would this (instructor, room, window) collide with
// an existing active session?". It has no side effects.
type Detector struct {
	store club.Store
}

func NewDetector(store club.Store) *Detector {
	return &Detector{store: store}
}

// Proposal is a candidate time slot for a session.
type Proposal struct {
	Instructor club.InstructorID
	Room       club.RoomID
	Start      time.Time
	Duration   time.Duration
	// Exclude skips one session in the scan, for in-place edits.
	Exclude club.SessionID
}

// CheckConflict scans active sessions sharing the proposal's instructor
// or room and reports the first temporal overlap, or nil when the slot
// is free. The returned error is reserved for storage failures; a
// conflict is a value, not an error, so callers can render it.
func (d *Detector) CheckConflict(ctx context.Context, p Proposal) (*club.ScheduleConflictError, error) {
	if p.Duration <= 0 {
		return nil, &club.ValidationError{Field: "duration", Message: "must be positive"}
	}

	candidates, err := d.store.ActiveSessionsFor(ctx, p.Instructor, p.Room)
	if err != nil {
		return nil, err
	}

	end := p.Start.Add(p.Duration)
	for _, s := range candidates {
		if s.ID == p.Exclude {
			continue
		}
		if !club.Overlaps(p.Start, end, s.StartAt, s.EndAt()) {
			continue
		}
		// Instructor conflicts are reported first: the same person
		// cannot be split across rooms, whereas a room clash may have a
		// different fix (move rooms).
		conflict := &club.ScheduleConflictError{
			Session: s.ID,
			Start:   s.StartAt,
			End:     s.EndAt(),
		}
		if s.Instructor == p.Instructor {
			conflict.Resource = club.ConflictInstructor
			conflict.ResourceID = string(p.Instructor)
		} else {
			conflict.Resource = club.ConflictRoom
			conflict.ResourceID = string(p.Room)
		}
		return conflict, nil
	}
	return nil, nil
}

// CheckAvailability is the read-only pre-flight used by the UI: true
// plus no reason when the slot is free, false plus the conflict when not.
func (d *Detector) CheckAvailability(ctx context.Context, p Proposal) (bool, *club.ScheduleConflictError, error) {
	conflict, err := d.CheckConflict(ctx, p)
	if err != nil {
		return false, nil, err
	}
	return conflict == nil, conflict, nil
}
