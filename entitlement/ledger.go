/*
Package entitlement owns the prepaid-visit side of the engine: which
grant covers a reservation date, the ±1 discipline on finite visit
counters, and the batch expiry of lapsed grants.

The ledger never prices or sells anything. The external purchase flow
calls Grant once payment is confirmed; everything else here consumes
grants that already exist.

INVARIANTS:
  - A finite counter is never negative at any observable point.
  - It moves down exactly once per successful reservation and up exactly
    once per successful cancellation of a reservation that charged it.
  - Credit on an unlimited grant is a no-op, not an error.
*/
package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/club-engine/club"
)

// Ledger manages entitlements over a Store.
type Ledger struct {
	store club.Store
	clock club.Clock
}

func NewLedger(store club.Store, clock club.Clock) *Ledger {
	return &Ledger{store: store, clock: clock}
}

// FindCovering returns the ACTIVE entitlement whose validity window
// contains date, or nil when the client has none. When windows overlap
// the earliest-expiring grant wins, so short passes burn first.
func (l *Ledger) FindCovering(ctx context.Context, client club.ClientID, date time.Time) (*club.Entitlement, error) {
	return l.store.FindCovering(ctx, client, date)
}

// Debit consumes one visit. Unlimited grants pass through untouched; a
// zero counter fails with ErrEntitlementExhausted before any change.
func (l *Ledger) Debit(ctx context.Context, id club.EntitlementID) error {
	return l.store.DebitEntitlement(ctx, id)
}

// Credit refunds one visit. No-op for unlimited grants.
func (l *Ledger) Credit(ctx context.Context, id club.EntitlementID) error {
	return l.store.CreditEntitlement(ctx, id)
}

// Expire transitions every ACTIVE entitlement whose validity ended
// before asOf to EXPIRED. Idempotent: re-running touches nothing.
func (l *Ledger) Expire(ctx context.Context, asOf time.Time) (int, error) {
	return l.store.ExpireEntitlements(ctx, asOf)
}

// Grant creates an ACTIVE entitlement from a plan, starting at the given
// date. This is the hook the external purchase flow calls after payment;
// the engine does not verify payment.
func (l *Ledger) Grant(ctx context.Context, client club.ClientID, planID club.PlanID, start time.Time) (*club.Entitlement, error) {
	if client == "" {
		return nil, &club.ValidationError{Field: "client", Message: "required"}
	}
	plan, err := l.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, &club.NotFoundError{Kind: "plan", ID: string(planID)}
	}
	if start.IsZero() {
		start = l.clock.Now()
	}

	var remaining *int
	if plan.VisitLimit != nil {
		n := *plan.VisitLimit
		remaining = &n
	}

	from := club.DateOf(start)
	ent := club.Entitlement{
		ID:          club.EntitlementID(uuid.NewString()),
		Client:      client,
		Plan:        planID,
		ValidFrom:   from,
		ValidTo:     from.AddDate(0, 0, plan.DurationDays-1),
		Status:      club.EntitlementActive,
		Remaining:   remaining,
		PurchasedAt: l.clock.Now(),
	}
	if err := l.store.InsertEntitlement(ctx, ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

// ByClient returns a client's entitlement history, newest first.
func (l *Ledger) ByClient(ctx context.Context, client club.ClientID) ([]club.Entitlement, error) {
	return l.store.EntitlementsByClient(ctx, client)
}

// ExpiringOn returns ACTIVE grants whose validity ends on the given
// date. The expiry-reminder sweep uses this to warn clients ahead of
// time.
func (l *Ledger) ExpiringOn(ctx context.Context, date time.Time) ([]club.Entitlement, error) {
	return l.store.EntitlementsExpiringOn(ctx, date)
}
