package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// EventEmail hands email delivery to the platform's notification pipeline by
// publishing a dispatch.notify.email event. The dispatch service never talks
// SMTP itself.
type EventEmail struct {
	events domain.EventPublisher
	clock  domain.Clock
	logger *zap.Logger
}

func NewEventEmail(events domain.EventPublisher, clock domain.Clock, logger *zap.Logger) *EventEmail {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmail{events: events, clock: clock, logger: logger}
}

// Send satisfies domain.EmailSender.
func (e *EventEmail) Send(ctx context.Context, to, subject, body string) error {
	return e.events.Publish(ctx, domain.Event{
		Subject: "dispatch.notify.email",
		Type:    "EmailRequested",
		Payload: map[string]any{
			"to":      to,
			"subject": subject,
			"body":    body,
		},
		CreatedAt: e.clock.Now(),
	})
}

// Noop discards every message. Used when no broker is configured.
type Noop struct{}

func (Noop) Send(context.Context, string, string, string) error { return nil }
