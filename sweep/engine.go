/*
Package sweep is the time-driven policy engine: the periodic passes that
move reservations and entitlements forward without operator action.

SWEEPS:
  - Reminders: notify clients 90-150 minutes before their session. The
    window is deliberately wider than the sweep interval so a missed run
    still catches everyone; a per-reservation reminder marker keeps
    overlapping runs from double-sending.
  - Stale resolution: CONFIRMED reservations with no visit and a session
    about to start (within 30 minutes) become NO_SHOW and the charged
    entitlement is credited back.
  - Post-session resolution: CONFIRMED reservations whose session ended
    become COMPLETED when a visit exists, otherwise NO_SHOW with no
    refund (the visit opportunity was consumed).
  - Entitlement expiry: lapsed ACTIVE grants become EXPIRED; grants
    expiring in three days trigger a warning notification.

Each sweep is idempotent and safe to run concurrently with user
operations: every mutation re-validates status in the transaction that
applies it, so a client cancelling at the same moment a sweep marks
NO_SHOW produces exactly one outcome. Per-item failures are logged and
skipped; one bad row never aborts the rest of a sweep.

SEE ALSO:
  - runner.go: ticker-driven scheduling of the sweeps
*/
package sweep

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/warp/club-engine/club"
	"github.com/warp/club-engine/notify"
)

// Sweep windows. The reminder look-ahead is wider than the 30 minute
// sweep interval on purpose; see the package comment.
const (
	ReminderLeadMin = 90 * time.Minute
	ReminderLeadMax = 150 * time.Minute
	NoShowLead      = 30 * time.Minute
	ExpiryWarnDays  = 3
)

// Engine executes the four sweeps.
type Engine struct {
	store    club.Store
	clock    club.Clock
	notifier notify.Notifier
}

func NewEngine(store club.Store, clock club.Clock, notifier notify.Notifier) *Engine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Engine{store: store, clock: clock, notifier: notifier}
}

// Counts summarizes a sweep run.
type Counts struct {
	Processed int
	Skipped   int
	Failed    int
}

// SendReminders dispatches reminder notifications for CONFIRMED
// reservations starting in [now+90m, now+150m) that have not been
// reminded yet. The reminder marker is claimed in the same transaction
// that emits the request, so re-running inside the window is a no-op.
func (e *Engine) SendReminders(ctx context.Context) (Counts, error) {
	now := e.clock.Now()
	due, err := e.store.ReservationsDueReminder(ctx, now.Add(ReminderLeadMin), now.Add(ReminderLeadMax))
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, r := range due {
		err := e.store.WithTx(ctx, func(tx club.Store) error {
			claimed, err := tx.MarkReminderSent(ctx, r.ID, now)
			if err != nil {
				return err
			}
			if !claimed {
				c.Skipped++
				return nil
			}
			session, err := tx.GetSession(ctx, r.Session)
			if err != nil {
				return err
			}
			payload := notify.Payload{
				"client_id":      string(r.Client),
				"reservation_id": string(r.ID),
				"session_id":     string(r.Session),
			}
			if session != nil {
				payload["start_at"] = session.StartAt.Format(time.RFC3339)
			}
			// Delivery failure does not release the claim: at most one
			// reminder per reservation beats a duplicate send.
			if err := e.notifier.Notify(ctx, notify.EventBookingReminder, payload); err != nil {
				log.Printf("[Sweep] reminder notify failed for reservation %s: %v", r.ID, err)
			}
			c.Processed++
			return nil
		})
		if err != nil {
			log.Printf("[Sweep] reminder sweep failed for reservation %s: %v", r.ID, err)
			c.Failed++
		}
	}
	return c, nil
}

// ResolveStale marks CONFIRMED reservations with no visit NO_SHOW when
// their session starts within NoShowLead, crediting the charged
// entitlement in the same transaction.
func (e *Engine) ResolveStale(ctx context.Context) (Counts, error) {
	now := e.clock.Now()
	stale, err := e.store.ConfirmedWithoutVisit(ctx, now, now.Add(NoShowLead))
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, r := range stale {
		err := e.store.WithTx(ctx, func(tx club.Store) error {
			// A visit or cancellation may have landed since the query.
			visit, err := tx.GetVisitByReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			if visit != nil {
				c.Skipped++
				return nil
			}
			moved, err := tx.TransitionReservation(ctx, r.ID, club.ReservationConfirmed, club.ReservationNoShow, &now)
			if err != nil {
				return err
			}
			if !moved {
				c.Skipped++
				return nil
			}
			if err := tx.CreditEntitlement(ctx, r.Entitlement); err != nil {
				return err
			}
			c.Processed++
			return nil
		})
		if err != nil {
			log.Printf("[Sweep] stale resolution failed for reservation %s: %v", r.ID, err)
			c.Failed++
			continue
		}
		e.emit(ctx, notify.EventBookingNoShow, notify.Payload{
			"client_id":      string(r.Client),
			"reservation_id": string(r.ID),
			"session_id":     string(r.Session),
		})
	}
	return c, nil
}

// ResolvePast settles CONFIRMED reservations whose session already
// ended: COMPLETED when a visit exists, NO_SHOW otherwise. No
// entitlement credit in either branch; the visit was consumed.
func (e *Engine) ResolvePast(ctx context.Context) (Counts, error) {
	now := e.clock.Now()
	started, err := e.store.ConfirmedStartedBefore(ctx, now)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, r := range started {
		err := e.store.WithTx(ctx, func(tx club.Store) error {
			session, err := tx.GetSession(ctx, r.Session)
			if err != nil {
				return err
			}
			if session == nil || session.EndAt().After(now) {
				// Started but still running; the next run gets it.
				c.Skipped++
				return nil
			}

			visit, err := tx.GetVisitByReservation(ctx, r.ID)
			if err != nil {
				return err
			}
			to := club.ReservationNoShow
			if visit != nil {
				to = club.ReservationCompleted
			}
			moved, err := tx.TransitionReservation(ctx, r.ID, club.ReservationConfirmed, to, nil)
			if err != nil {
				return err
			}
			if moved {
				c.Processed++
			} else {
				c.Skipped++
			}
			return nil
		})
		if err != nil {
			log.Printf("[Sweep] post-session resolution failed for reservation %s: %v", r.ID, err)
			c.Failed++
		}
	}
	return c, nil
}

// ExpireEntitlements lapses overdue grants and warns clients whose
// grants expire in ExpiryWarnDays.
func (e *Engine) ExpireEntitlements(ctx context.Context) (Counts, error) {
	now := e.clock.Now()
	expired, err := e.store.ExpireEntitlements(ctx, club.DateOf(now))
	if err != nil {
		return Counts{}, err
	}

	c := Counts{Processed: expired}

	warnDate := club.DateOf(now).AddDate(0, 0, ExpiryWarnDays)
	expiring, err := e.store.EntitlementsExpiringOn(ctx, warnDate)
	if err != nil {
		return c, err
	}
	for _, ent := range expiring {
		payload := notify.Payload{
			"client_id":      string(ent.Client),
			"entitlement_id": string(ent.ID),
			"valid_to":       ent.ValidTo.Format("2006-01-02"),
		}
		if ent.Remaining != nil {
			payload["visits_remaining"] = strconv.Itoa(*ent.Remaining)
		}
		e.emit(ctx, notify.EventEntitlementExpires, payload)
	}
	return c, nil
}

func (e *Engine) emit(ctx context.Context, event notify.Event, payload notify.Payload) {
	if err := e.notifier.Notify(ctx, event, payload); err != nil {
		log.Printf("[Sweep] notify %s failed: %v", event, err)
	}
}

