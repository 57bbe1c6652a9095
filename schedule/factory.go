// factory.go - Session construction with per-activity defaults.
//
// Mirrors how operators actually schedule: they pick an activity, an
// instructor, a room and a start time, and the activity type supplies
// the usual duration and class size. The room's physical capacity is a
// hard ceiling on whatever default applies.
package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/club-engine/club"
)

// Factory builds Session values with defaults resolved from the catalog.
// It does not persist; Service.Create does that after conflict checking.
type Factory struct {
	store club.Store
	clock club.Clock
}

func NewFactory(store club.Store, clock club.Clock) *Factory {
	return &Factory{store: store, clock: clock}
}

// Params are the operator-supplied fields for a new session. Duration
// and Capacity are optional; zero means "use the activity default".
type Params struct {
	ActivityType club.ActivityTypeID
	Instructor   club.InstructorID
	Room         club.RoomID
	Start        time.Time
	Duration     time.Duration
	Capacity     int
	Notes        string
}

// NewSession resolves defaults and validates, returning an unsaved
// SCHEDULED session.
func (f *Factory) NewSession(ctx context.Context, p Params) (*club.Session, error) {
	if p.Start.IsZero() {
		return nil, &club.ValidationError{Field: "start", Message: "required"}
	}

	activity, err := f.store.GetActivityType(ctx, p.ActivityType)
	if err != nil {
		return nil, err
	}
	if activity == nil || !activity.Active {
		return nil, &club.NotFoundError{Kind: "activity type", ID: string(p.ActivityType)}
	}

	instructor, err := f.store.GetInstructor(ctx, p.Instructor)
	if err != nil {
		return nil, err
	}
	if instructor == nil || !instructor.Active {
		return nil, &club.NotFoundError{Kind: "instructor", ID: string(p.Instructor)}
	}

	room, err := f.store.GetRoom(ctx, p.Room)
	if err != nil {
		return nil, err
	}
	if room == nil || !room.Active {
		return nil, &club.NotFoundError{Kind: "room", ID: string(p.Room)}
	}

	duration := p.Duration
	if duration == 0 {
		duration = activity.DefaultDuration
	}
	if duration <= 0 {
		return nil, &club.ValidationError{Field: "duration", Message: "must be positive"}
	}

	// Default capacity is bounded by the room's physical capacity; an
	// explicit operator value is bounded the same way.
	capacity := p.Capacity
	if capacity == 0 {
		capacity = activity.DefaultCapacity
	}
	if capacity > room.Capacity {
		capacity = room.Capacity
	}
	if capacity < 1 {
		return nil, &club.ValidationError{Field: "capacity", Message: "must be at least 1"}
	}

	now := f.clock.Now()
	return &club.Session{
		ID:           club.SessionID(uuid.NewString()),
		ActivityType: p.ActivityType,
		Instructor:   p.Instructor,
		Room:         p.Room,
		StartAt:      p.Start.UTC(),
		Duration:     duration,
		Capacity:     capacity,
		Status:       club.SessionScheduled,
		Notes:        p.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
