/*
Package notify defines the fire-and-forget notification contract the
engine emits events through. Actual delivery (email, SMS) is an external
collaborator; the engine only requests it.

Failures are the caller's problem to log, never to propagate: a broken
mail gateway must not block a reservation or abort a sweep.
*/
package notify

import (
	"context"
	"log"
)

// Event names a notification kind.
type Event string

const (
	EventBookingConfirmed   Event = "booking.confirmed"
	EventBookingReminder    Event = "booking.reminder"
	EventBookingNoShow      Event = "booking.no_show"
	EventEntitlementExpires Event = "entitlement.expiring"
)

// Payload carries event-specific fields (client ID, session ID, start
// time) as strings; the delivery side renders them.
type Payload map[string]string

// Notifier dispatches a notification request.
type Notifier interface {
	Notify(ctx context.Context, event Event, payload Payload) error
}

// LogNotifier writes notification requests to the process log. It is
// the default wiring when no delivery integration is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event, payload Payload) error {
	log.Printf("[Notify] %s %v", event, payload)
	return nil
}

// Func adapts a function to the Notifier interface, mostly for tests.
type Func func(ctx context.Context, event Event, payload Payload) error

func (f Func) Notify(ctx context.Context, event Event, payload Payload) error {
	return f(ctx, event, payload)
}
