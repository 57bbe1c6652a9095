package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/entitlement"
	"github.com/warp/club-engine/store/sqlite"
)

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*entitlement.Ledger, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return entitlement.NewLedger(store, club.NewManualClock(testNow)), store
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func insert(t *testing.T, store *sqlite.Store, id string, client club.ClientID, from, to time.Time, remaining *int, status club.EntitlementStatus) {
	t.Helper()
	require.NoError(t, store.InsertEntitlement(context.Background(), club.Entitlement{
		ID:          club.EntitlementID(id),
		Client:      client,
		ValidFrom:   from,
		ValidTo:     to,
		Status:      status,
		Remaining:   remaining,
		PurchasedAt: testNow,
	}))
}

func intp(n int) *int { return &n }

// =============================================================================
// GRANT
// =============================================================================

func TestGrant_FromPlan(t *testing.T) {
	// GIVEN: A 30-day, 10-visit plan
	// WHEN: Granting from March 10
	// THEN: Valid March 10 through April 8 inclusive, counter at 10

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.SavePlan(ctx, club.Plan{
		ID: "plan-10", Name: "10 visits", DurationDays: 30, VisitLimit: intp(10), Active: true,
	}))

	ent, err := ledger.Grant(ctx, "client-1", "plan-10", date(2026, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2026, time.March, 10), ent.ValidFrom)
	assert.Equal(t, date(2026, time.April, 8), ent.ValidTo)
	assert.Equal(t, club.EntitlementActive, ent.Status)
	require.NotNil(t, ent.Remaining)
	assert.Equal(t, 10, *ent.Remaining)
}

func TestGrant_UnlimitedPlan(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, store.SavePlan(ctx, club.Plan{
		ID: "plan-unl", Name: "Monthly unlimited", DurationDays: 30, Active: true,
	}))

	ent, err := ledger.Grant(ctx, "client-1", "plan-unl", time.Time{})
	require.NoError(t, err)
	assert.Nil(t, ent.Remaining)
	assert.True(t, ent.Unlimited())
	assert.Equal(t, club.DateOf(testNow), ent.ValidFrom, "zero start defaults to today")
}

func TestGrant_UnknownPlan_Rejected(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Grant(context.Background(), "client-1", "nope", time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, club.ErrNotFound)
}

// =============================================================================
// COVERAGE LOOKUP
// =============================================================================

func TestFindCovering_EarliestExpiryWins(t *testing.T) {
	// Two overlapping grants: the one expiring sooner is charged first,
	// so short passes burn before long memberships.

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "long", "client-1", date(2026, time.January, 1), date(2026, time.December, 31), nil, club.EntitlementActive)
	insert(t, store, "short", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), intp(5), club.EntitlementActive)

	ent, err := ledger.FindCovering(ctx, "client-1", date(2026, time.March, 15))
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, club.EntitlementID("short"), ent.ID)

	// Outside the short pass, the long one covers.
	ent, err = ledger.FindCovering(ctx, "client-1", date(2026, time.May, 1))
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, club.EntitlementID("long"), ent.ID)
}

func TestFindCovering_IgnoresInactiveAndOutOfWindow(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "expired", "client-1", date(2026, time.January, 1), date(2026, time.January, 31), intp(3), club.EntitlementExpired)
	insert(t, store, "suspended", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), intp(3), club.EntitlementSuspended)

	ent, err := ledger.FindCovering(ctx, "client-1", date(2026, time.March, 15))
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestFindCovering_BoundaryDaysInclusive(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "march", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), nil, club.EntitlementActive)

	for _, d := range []time.Time{date(2026, time.March, 1), date(2026, time.March, 31)} {
		ent, err := ledger.FindCovering(ctx, "client-1", d)
		require.NoError(t, err)
		assert.NotNil(t, ent, "validity window is inclusive on both ends")
	}

	ent, err := ledger.FindCovering(ctx, "client-1", date(2026, time.April, 1))
	require.NoError(t, err)
	assert.Nil(t, ent)
}

// =============================================================================
// COUNTER DISCIPLINE
// =============================================================================

func TestDebitCredit_Symmetric(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "ent-1", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), intp(2), club.EntitlementActive)

	require.NoError(t, ledger.Debit(ctx, "ent-1"))
	require.NoError(t, ledger.Debit(ctx, "ent-1"))

	err := ledger.Debit(ctx, "ent-1")
	assert.ErrorIs(t, err, club.ErrEntitlementExhausted, "counter never goes below zero")

	require.NoError(t, ledger.Credit(ctx, "ent-1"))
	ent, err := store.GetEntitlement(ctx, "ent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, *ent.Remaining)
}

func TestDebitCredit_UnlimitedNoOp(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "unl", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), nil, club.EntitlementActive)

	require.NoError(t, ledger.Debit(ctx, "unl"))
	require.NoError(t, ledger.Credit(ctx, "unl"))

	ent, err := store.GetEntitlement(ctx, "unl")
	require.NoError(t, err)
	assert.Nil(t, ent.Remaining)
}

func TestDebit_MissingEntitlement_NotFound(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Debit(context.Background(), "nope")
	assert.ErrorIs(t, err, club.ErrNotFound)
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestExpire_LapsesOverdueGrants_Idempotent(t *testing.T) {
	// GIVEN: One grant ended in February, one runs through March
	// WHEN: Expiring as of March 10, twice
	// THEN: Only the lapsed one changes, and only on the first run

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "old", "client-1", date(2026, time.February, 1), date(2026, time.February, 28), intp(3), club.EntitlementActive)
	insert(t, store, "current", "client-1", date(2026, time.March, 1), date(2026, time.March, 31), intp(3), club.EntitlementActive)

	n, err := ledger.Expire(ctx, date(2026, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ledger.Expire(ctx, date(2026, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second run touches nothing")

	old, _ := store.GetEntitlement(ctx, "old")
	assert.Equal(t, club.EntitlementExpired, old.Status)
	cur, _ := store.GetEntitlement(ctx, "current")
	assert.Equal(t, club.EntitlementActive, cur.Status)
}

func TestExpire_LastValidDayStillActive(t *testing.T) {
	// A grant valid through today is not overdue yet.

	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "today", "client-1", date(2026, time.March, 1), date(2026, time.March, 10), intp(3), club.EntitlementActive)

	n, err := ledger.Expire(ctx, date(2026, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ledger.Expire(ctx, date(2026, time.March, 11))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExpiringOn(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	insert(t, store, "soon", "client-1", date(2026, time.March, 1), date(2026, time.March, 13), intp(3), club.EntitlementActive)
	insert(t, store, "later", "client-2", date(2026, time.March, 1), date(2026, time.March, 31), intp(3), club.EntitlementActive)

	expiring, err := ledger.ExpiringOn(ctx, date(2026, time.March, 13))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, club.EntitlementID("soon"), expiring[0].ID)
}
