package umbra

import (
	"context"
	"time"
)

// EventType enumerates authenticator lifecycle notifications.
type EventType string

const (
	EventAuthenticatorCreated   EventType = "authenticator.created"
	EventAuthenticatorTouched   EventType = "authenticator.touched"
	EventAuthenticatorRenewed   EventType = "authenticator.renewed"
	EventAuthenticatorDiscarded EventType = "authenticator.discarded"
	EventAuthenticatorInvalid   EventType = "authenticator.invalid"
	EventFingerprintMismatch    EventType = "authenticator.fingerprint.mismatch"
)

// Event captures a lifecycle notification. Publication is
// fire-and-forget: sink errors are logged, never propagated.
type Event struct {
	Type            EventType
	LoginInfo       LoginInfo
	AuthenticatorID string
	OccurredAt      time.Time
	Metadata        map[string]any
}

// EventSink consumes lifecycle events for auditing or telemetry.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event Event) error

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopEventSink struct{}

func (noopEventSink) Publish(context.Context, Event) error {
	return nil
}

func normalizeEventSink(s EventSink) EventSink {
	if s == nil {
		return noopEventSink{}
	}
	return s
}

func publishEvent(ctx context.Context, sink EventSink, logger Logger, clock Clock, event Event) {
	if event.OccurredAt.IsZero() {
		if clock == nil {
			clock = SystemClock{}
		}
		event.OccurredAt = clock.Now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := normalizeEventSink(sink).Publish(ctx, event); err != nil && logger != nil {
		logger.Error("event sink publish error: %v", err)
	}
}

// noteInvalid publishes an invalid event for records that decode but
// fail the validity rule. The record is still handed to the caller;
// acting on validity stays the caller's decision.
func noteInvalid(ctx context.Context, sink EventSink, logger Logger, clock Clock, a *Authenticator) {
	if a == nil || a.IsValid(clock.Now()) {
		return
	}

	publishEvent(ctx, sink, logger, clock, Event{
		Type:            EventAuthenticatorInvalid,
		LoginInfo:       a.LoginInfo,
		AuthenticatorID: a.ID,
	})
}
