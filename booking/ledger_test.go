package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-engine/booking"
	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*booking.Ledger, *sqlite.Store, *club.ManualClock) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := club.NewManualClock(testNow)
	return booking.NewLedger(store, clock, nil), store, clock
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

func seedSession(t *testing.T, store *sqlite.Store, start time.Time, capacity int) club.SessionID {
	t.Helper()
	id := club.SessionID(uuid.NewString())
	require.NoError(t, store.SaveSession(context.Background(), club.Session{
		ID:           id,
		ActivityType: "yoga",
		Instructor:   "ins-1",
		Room:         "studio-a",
		StartAt:      start,
		Duration:     time.Hour,
		Capacity:     capacity,
		Status:       club.SessionScheduled,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}))
	return id
}

// seedEntitlement grants the client an ACTIVE entitlement covering the
// whole test month. remaining < 0 means unlimited.
func seedEntitlement(t *testing.T, store *sqlite.Store, client club.ClientID, remaining int) club.EntitlementID {
	t.Helper()
	id := club.EntitlementID(uuid.NewString())
	ent := club.Entitlement{
		ID:          id,
		Client:      client,
		ValidFrom:   time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:     time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
		Status:      club.EntitlementActive,
		PurchasedAt: testNow,
	}
	if remaining >= 0 {
		ent.Remaining = &remaining
	}
	require.NoError(t, store.InsertEntitlement(context.Background(), ent))
	return id
}

func remainingVisits(t *testing.T, store *sqlite.Store, id club.EntitlementID) *int {
	t.Helper()
	ent, err := store.GetEntitlement(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, ent)
	return ent.Remaining
}

// =============================================================================
// RESERVE
// =============================================================================

func TestReserve_Success_DebitsEntitlement(t *testing.T) {
	// GIVEN: A scheduled session tomorrow and a client with 10 visits
	// WHEN: The client reserves a seat
	// THEN: Reservation is CONFIRMED and the counter dropped to 9

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)
	assert.Equal(t, club.ReservationConfirmed, r.Status)
	assert.Equal(t, entID, r.Entitlement)

	rem := remainingVisits(t, store, entID)
	require.NotNil(t, rem)
	assert.Equal(t, 9, *rem)
}

func TestReserve_FullSession_Rejected(t *testing.T) {
	// GIVEN: A session with capacity 1 already holding one reservation
	// WHEN: A second client tries to reserve
	// THEN: CapacityError, no reservation, second counter untouched

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 1)
	seedEntitlement(t, store, "client-1", 5)
	entB := seedEntitlement(t, store, "client-2", 5)

	_, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "client-2", sessionID, "")
	require.Error(t, err)
	var capErr *club.CapacityError
	assert.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, club.ErrConflict)

	rem := remainingVisits(t, store, entB)
	assert.Equal(t, 5, *rem, "failed reservation must not charge the entitlement")
}

func TestReserve_Duplicate_Rejected(t *testing.T) {
	// GIVEN: A client already confirmed on a session
	// WHEN: The same client reserves again
	// THEN: DuplicateReservationError and the counter moved only once

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 5)

	_, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, "client-1", sessionID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrDuplicateReservation)
	assert.ErrorIs(t, err, club.ErrConflict)

	rem := remainingVisits(t, store, entID)
	assert.Equal(t, 4, *rem)
}

func TestReserve_NoEntitlement_Rejected(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)

	_, err := ledger.Reserve(context.Background(), "client-1", sessionID, "")
	require.Error(t, err)
	var entErr *club.EntitlementError
	require.ErrorAs(t, err, &entErr)
	assert.Equal(t, club.EntitlementNone, entErr.Reason)
	assert.ErrorIs(t, err, club.ErrEntitlement)
}

func TestReserve_ExhaustedEntitlement_Rejected(t *testing.T) {
	// GIVEN: An entitlement with zero visits remaining
	// WHEN: Reserving
	// THEN: Rejected with the exhausted reason, counter stays at zero

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 0)

	_, err := ledger.Reserve(context.Background(), "client-1", sessionID, "")
	require.Error(t, err)
	var entErr *club.EntitlementError
	require.ErrorAs(t, err, &entErr)
	assert.Equal(t, club.EntitlementNoVisits, entErr.Reason)

	rem := remainingVisits(t, store, entID)
	assert.Equal(t, 0, *rem)
}

func TestReserve_UnlimitedEntitlement_NoCounter(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", -1) // unlimited

	_, err := ledger.Reserve(context.Background(), "client-1", sessionID, "")
	require.NoError(t, err)

	assert.Nil(t, remainingVisits(t, store, entID))
}

func TestReserve_PastSession_Rejected(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)

	sessionID := seedSession(t, store, testNow.Add(-time.Hour), 15)
	seedEntitlement(t, store, "client-1", 5)

	_, err := ledger.Reserve(context.Background(), "client-1", sessionID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrState)
}

func TestReserve_UnknownSession_NotFound(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)

	_, err := ledger.Reserve(context.Background(), "client-1", "nope", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrNotFound)
}

func TestReserve_LastSeat_Concurrent_ExactlyOneWins(t *testing.T) {
	// GIVEN: One seat left and two clients racing for it
	// WHEN: Both Reserve concurrently
	// THEN: Exactly one succeeds; seats taken never exceeds capacity

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 1)
	seedEntitlement(t, store, "client-1", 5)
	seedEntitlement(t, store, "client-2", 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, client := range []club.ClientID{"client-1", "client-2"} {
		wg.Add(1)
		go func(i int, client club.ClientID) {
			defer wg.Done()
			_, errs[i] = ledger.Reserve(ctx, client, sessionID, "")
		}(i, client)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, club.ErrConflict)
		}
	}
	assert.Equal(t, 1, successes, "exactly one racer gets the last seat")

	taken, err := store.CountSeatsTaken(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, taken)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_RefundsVisit(t *testing.T) {
	// GIVEN: A confirmed reservation 48h before its session
	// WHEN: The client cancels
	// THEN: CANCELLED with a timestamp, counter back where it started

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)
	assert.Equal(t, 9, *remainingVisits(t, store, entID))

	require.NoError(t, ledger.Cancel(ctx, r.ID, "client-1"))

	got, err := ledger.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, club.ReservationCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)
	assert.Equal(t, 10, *remainingVisits(t, store, entID))
}

func TestCancel_InsideWindow_Rejected(t *testing.T) {
	// GIVEN: A session starting in 23 hours
	// WHEN: Cancelling
	// THEN: Rejected; reservation stays CONFIRMED and no refund

	ledger, store, clock := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	clock.Set(testNow.Add(25 * time.Hour)) // 23h before start

	err = ledger.Cancel(ctx, r.ID, "client-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrState)

	got, _ := ledger.Get(ctx, r.ID)
	assert.Equal(t, club.ReservationConfirmed, got.Status)
	assert.Equal(t, 9, *remainingVisits(t, store, entID))
}

func TestCancel_ExactlyAtWindowBoundary_Allowed(t *testing.T) {
	// Exactly 24h before start is still free cancellation; one second
	// later is not.

	ledger, store, clock := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	start := testNow.Add(48 * time.Hour)
	sessionID := seedSession(t, store, start, 15)
	seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	clock.Set(start.Add(-booking.CancelWindow))
	require.NoError(t, ledger.Cancel(ctx, r.ID, "client-1"))

	// Re-book a second client to probe the far side of the boundary.
	seedEntitlement(t, store, "client-2", 10)
	clock.Set(testNow)
	r2, err := ledger.Reserve(ctx, "client-2", sessionID, "")
	require.NoError(t, err)

	clock.Set(start.Add(-booking.CancelWindow).Add(time.Second))
	err = ledger.Cancel(ctx, r2.ID, "client-2")
	assert.ErrorIs(t, err, club.ErrState)
}

func TestCancel_AlreadyCancelled_Rejected(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	entID := seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Cancel(ctx, r.ID, "client-1"))

	err = ledger.Cancel(ctx, r.ID, "client-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrState)

	// Refund happened exactly once.
	assert.Equal(t, 10, *remainingVisits(t, store, entID))
}

func TestCanCancel(t *testing.T) {
	ledger, store, clock := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	start := testNow.Add(48 * time.Hour)
	sessionID := seedSession(t, store, start, 15)
	seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	ok, err := ledger.CanCancel(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Set(start.Add(-time.Hour))
	ok, err = ledger.CanCancel(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// VISITS
// =============================================================================

func TestRecordVisit_CompletesReservation(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	visit, err := ledger.RecordVisit(ctx, r.ID, "front-desk")
	require.NoError(t, err)
	assert.Equal(t, r.ID, visit.Reservation)
	assert.Equal(t, "front-desk", visit.RecordedBy)

	got, _ := ledger.Get(ctx, r.ID)
	assert.Equal(t, club.ReservationCompleted, got.Status)
}

func TestRecordVisit_Twice_Rejected(t *testing.T) {
	// A completed reservation already carries its visit; checking in
	// again must fail, never duplicate.

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)

	_, err = ledger.RecordVisit(ctx, r.ID, "front-desk")
	require.NoError(t, err)

	_, err = ledger.RecordVisit(ctx, r.ID, "front-desk")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrState)
}

func TestRecordVisit_CancelledReservation_Rejected(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 15)
	seedEntitlement(t, store, "client-1", 10)

	r, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Cancel(ctx, r.ID, "client-1"))

	_, err = ledger.RecordVisit(ctx, r.ID, "front-desk")
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrState)
}

// =============================================================================
// DERIVED CAPACITY
// =============================================================================

func TestAvailableSpots_Derived(t *testing.T) {
	// Spots are always capacity minus live seats, recomputed per call:
	// reserve drops it, cancel restores it, completion keeps the seat.

	ledger, store, _ := newTestLedger(t)
	seedCatalog(t, store)
	ctx := context.Background()

	sessionID := seedSession(t, store, testNow.Add(48*time.Hour), 3)
	seedEntitlement(t, store, "client-1", 10)
	seedEntitlement(t, store, "client-2", 10)

	spots, err := ledger.AvailableSpots(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, spots)

	r1, err := ledger.Reserve(ctx, "client-1", sessionID, "")
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, "client-2", sessionID, "")
	require.NoError(t, err)

	spots, _ = ledger.AvailableSpots(ctx, sessionID)
	assert.Equal(t, 1, spots)

	require.NoError(t, ledger.Cancel(ctx, r1.ID, "client-1"))
	spots, _ = ledger.AvailableSpots(ctx, sessionID)
	assert.Equal(t, 2, spots)
}
