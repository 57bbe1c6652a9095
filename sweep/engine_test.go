package sweep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/notify"
	"github.com/warp/club-engine/store/sqlite"
	"github.com/warp/club-engine/sweep"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

// recorder captures emitted notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	loads  []notify.Payload
}

func (r *recorder) Notify(_ context.Context, event notify.Event, payload notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.loads = append(r.loads, payload)
	return nil
}

func (r *recorder) count(event notify.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*sweep.Engine, *sqlite.Store, *club.ManualClock, *recorder) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := club.NewManualClock(testNow)
	rec := &recorder{}
	return sweep.NewEngine(store, clock, rec), store, clock, rec
}

func seedCatalog(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveActivityType(ctx, club.ActivityType{
		ID: "yoga", Name: "Yoga", DefaultDuration: time.Hour, DefaultCapacity: 15, Active: true,
	}))
	require.NoError(t, store.SaveRoom(ctx, club.Room{ID: "studio-a", Name: "Studio A", Capacity: 20, Active: true}))
	require.NoError(t, store.SaveInstructor(ctx, club.Instructor{ID: "ins-1", Name: "Dana", Active: true}))
}

func seedSession(t *testing.T, store *sqlite.Store, id club.SessionID, start time.Time) {
	t.Helper()
	require.NoError(t, store.SaveSession(context.Background(), club.Session{
		ID:           id,
		ActivityType: "yoga",
		Instructor:   "ins-1",
		Room:         "studio-a",
		StartAt:      start,
		Duration:     time.Hour,
		Capacity:     15,
		Status:       club.SessionScheduled,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}))
}

func seedEntitlement(t *testing.T, store *sqlite.Store, id club.EntitlementID, client club.ClientID, remaining *int, validTo time.Time) {
	t.Helper()
	require.NoError(t, store.InsertEntitlement(context.Background(), club.Entitlement{
		ID:          id,
		Client:      client,
		ValidFrom:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:     validTo,
		Status:      club.EntitlementActive,
		Remaining:   remaining,
		PurchasedAt: testNow,
	}))
}

func seedReservation(t *testing.T, store *sqlite.Store, id club.ReservationID, client club.ClientID, session club.SessionID, ent club.EntitlementID) {
	t.Helper()
	require.NoError(t, store.InsertReservation(context.Background(), club.Reservation{
		ID:          id,
		Client:      client,
		Session:     session,
		Entitlement: ent,
		Status:      club.ReservationConfirmed,
		CreatedAt:   testNow,
	}))
}

func intp(n int) *int { return &n }

var marchEnd = time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)

// =============================================================================
// REMINDERS
// =============================================================================

func TestSendReminders_WindowAndDedup(t *testing.T) {
	// GIVEN: Sessions starting in 2h (inside the 90-150m window), in 30m
	// (already past the window) and in 4h (too far ahead)
	// WHEN: The reminder sweep runs twice
	// THEN: Exactly one reminder goes out, once

	engine, store, _, rec := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-due", testNow.Add(2*time.Hour))
	seedSession(t, store, "s-soon", testNow.Add(30*time.Minute))
	seedSession(t, store, "s-far", testNow.Add(4*time.Hour))
	seedEntitlement(t, store, "ent-1", "client-1", intp(5), marchEnd)
	seedReservation(t, store, "r-due", "client-1", "s-due", "ent-1")
	seedReservation(t, store, "r-soon", "client-1", "s-soon", "ent-1")
	seedReservation(t, store, "r-far", "client-1", "s-far", "ent-1")

	counts, err := engine.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Processed)
	assert.Equal(t, 1, rec.count(notify.EventBookingReminder))

	r, err := store.GetReservation(ctx, "r-due")
	require.NoError(t, err)
	assert.NotNil(t, r.ReminderSentAt)

	// Re-running inside the window is a no-op.
	counts, err = engine.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)
	assert.Equal(t, 1, rec.count(notify.EventBookingReminder))
}

func TestSendReminders_SkipsCancelled(t *testing.T) {
	engine, store, _, rec := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(2*time.Hour))
	seedEntitlement(t, store, "ent-1", "client-1", intp(5), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")

	now := testNow
	_, err := store.TransitionReservation(ctx, "r-1", club.ReservationConfirmed, club.ReservationCancelled, &now)
	require.NoError(t, err)

	counts, err := engine.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)
	assert.Equal(t, 0, rec.count(notify.EventBookingReminder))
}

// =============================================================================
// STALE RESOLUTION (PRE-SESSION NO_SHOW)
// =============================================================================

func TestResolveStale_MarksNoShowAndRefunds(t *testing.T) {
	// GIVEN: A confirmed reservation, no visit, session starts in 20m
	// WHEN: The stale sweep runs
	// THEN: NO_SHOW, the visit is credited back, event emitted

	engine, store, _, rec := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(20*time.Minute))
	seedEntitlement(t, store, "ent-1", "client-1", intp(4), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")

	counts, err := engine.ResolveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Processed)

	r, _ := store.GetReservation(ctx, "r-1")
	assert.Equal(t, club.ReservationNoShow, r.Status)

	ent, _ := store.GetEntitlement(ctx, "ent-1")
	assert.Equal(t, 5, *ent.Remaining)
	assert.Equal(t, 1, rec.count(notify.EventBookingNoShow))
}

func TestResolveStale_VisitRecorded_Skipped(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(20*time.Minute))
	seedEntitlement(t, store, "ent-1", "client-1", intp(4), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")
	require.NoError(t, store.InsertVisit(ctx, club.Visit{
		ID: "v-1", Reservation: "r-1", RecordedAt: testNow,
	}))

	counts, err := engine.ResolveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)

	r, _ := store.GetReservation(ctx, "r-1")
	assert.Equal(t, club.ReservationConfirmed, r.Status, "a checked-in client is never a no-show")
}

func TestResolveStale_OutsideWindow_Untouched(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(2*time.Hour))
	seedEntitlement(t, store, "ent-1", "client-1", intp(4), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")

	counts, err := engine.ResolveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)
}

func TestResolveStale_Idempotent(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(20*time.Minute))
	seedEntitlement(t, store, "ent-1", "client-1", intp(4), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")

	_, err := engine.ResolveStale(ctx)
	require.NoError(t, err)
	counts, err := engine.ResolveStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)

	// Refund happened exactly once.
	ent, _ := store.GetEntitlement(ctx, "ent-1")
	assert.Equal(t, 5, *ent.Remaining)
}

// =============================================================================
// POST-SESSION RESOLUTION
// =============================================================================

func TestResolvePast_CompletedWithVisit_NoShowWithout(t *testing.T) {
	// GIVEN: Two confirmed reservations on a session that ended, one with
	// a visit and one without
	// WHEN: The post-session sweep runs
	// THEN: The visitor is COMPLETED, the other NO_SHOW, neither refunded

	engine, store, clock, _ := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(-2*time.Hour)) // ended 1h ago
	seedEntitlement(t, store, "ent-a", "client-a", intp(4), marchEnd)
	seedEntitlement(t, store, "ent-b", "client-b", intp(4), marchEnd)
	seedReservation(t, store, "r-a", "client-a", "s-1", "ent-a")
	seedReservation(t, store, "r-b", "client-b", "s-1", "ent-b")
	require.NoError(t, store.InsertVisit(ctx, club.Visit{
		ID: "v-a", Reservation: "r-a", RecordedAt: testNow.Add(-2 * time.Hour),
	}))

	clock.Set(testNow)
	counts, err := engine.ResolvePast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Processed)

	ra, _ := store.GetReservation(ctx, "r-a")
	assert.Equal(t, club.ReservationCompleted, ra.Status)
	rb, _ := store.GetReservation(ctx, "r-b")
	assert.Equal(t, club.ReservationNoShow, rb.Status)

	// Post-session no-show keeps the charge: the visit opportunity was
	// consumed.
	entB, _ := store.GetEntitlement(ctx, "ent-b")
	assert.Equal(t, 4, *entB.Remaining)
}

func TestResolvePast_StillRunning_Skipped(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	seedCatalog(t, store)
	ctx := context.Background()

	seedSession(t, store, "s-1", testNow.Add(-30*time.Minute)) // ends in 30m
	seedEntitlement(t, store, "ent-1", "client-1", intp(4), marchEnd)
	seedReservation(t, store, "r-1", "client-1", "s-1", "ent-1")

	counts, err := engine.ResolvePast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)
	assert.Equal(t, 1, counts.Skipped)

	r, _ := store.GetReservation(ctx, "r-1")
	assert.Equal(t, club.ReservationConfirmed, r.Status)
}

// =============================================================================
// ENTITLEMENT EXPIRY
// =============================================================================

func TestExpireEntitlements_LapsesAndWarns(t *testing.T) {
	// GIVEN: A grant that ended yesterday and one ending in exactly three
	// days
	// WHEN: The expiry sweep runs
	// THEN: The first is EXPIRED, the second triggers a warning event

	engine, store, _, rec := newTestEngine(t)
	ctx := context.Background()

	seedEntitlement(t, store, "overdue", "client-1", intp(2), time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC))
	seedEntitlement(t, store, "ending", "client-2", intp(2), time.Date(2026, time.March, 13, 0, 0, 0, 0, time.UTC))
	seedEntitlement(t, store, "healthy", "client-3", intp(2), marchEnd)

	counts, err := engine.ExpireEntitlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Processed)

	overdue, _ := store.GetEntitlement(ctx, "overdue")
	assert.Equal(t, club.EntitlementExpired, overdue.Status)
	healthy, _ := store.GetEntitlement(ctx, "healthy")
	assert.Equal(t, club.EntitlementActive, healthy.Status)

	assert.Equal(t, 1, rec.count(notify.EventEntitlementExpires))

	// Idempotent: the second run lapses nothing new.
	counts, err = engine.ExpireEntitlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Processed)
}
