package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

var (
	relayPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_relay_publish_total",
		Help: "Total number of successfully relayed dispatch events.",
	})
	relayFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_relay_fail_total",
		Help: "Total number of relay publish failures after exhausting retries.",
	})
	relayDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_relay_dropped_total",
		Help: "Events dropped because the relay queue was full.",
	})
	relayLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_relay_lag_seconds",
		Help: "Age of the most recently relayed event in seconds.",
	})
)

// natsPublisher is the slice of *nats.Conn the relay needs.
type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Config defines tunables for the relay worker.
type Config struct {
	QueueSize     int
	RetryMax      int
	SubjectPrefix string
}

// Relay buffers dispatch events in memory and forwards them to NATS so
// socket handlers never block on the broker. It satisfies
// domain.EventPublisher; Run drains the queue until the context ends.
type Relay struct {
	queue     chan domain.Event
	publisher natsPublisher
	logger    *zap.Logger
	cfg       Config
	clock     domain.Clock
}

// New constructs a relay. A nil connection yields a relay that accepts and
// discards events, which keeps single-process deployments wiring-free.
func New(conn *nats.Conn, logger *zap.Logger, clock domain.Clock, cfg Config) *Relay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "dispatch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	r := &Relay{
		queue:  make(chan domain.Event, cfg.QueueSize),
		logger: logger,
		cfg:    cfg,
		clock:  clock,
	}
	if conn != nil {
		r.publisher = conn
	}
	return r
}

// Publish enqueues without blocking. A full queue drops the event rather
// than stalling the caller; the counter makes the loss visible.
func (r *Relay) Publish(_ context.Context, event domain.Event) error {
	if r.publisher == nil {
		return nil
	}
	select {
	case r.queue <- event:
		return nil
	default:
		relayDroppedTotal.Inc()
		r.logger.Warn("relay queue full, event dropped",
			zap.String("subject", event.Subject), zap.String("type", event.Type))
		return nil
	}
}

// Run forwards queued events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.publisher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-r.queue:
			if err := r.publishWithRetry(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("relay publish failed", zap.Error(err), zap.String("subject", event.Subject))
			}
		}
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, event domain.Event) error {
	ctx, span := otel.Tracer("dispatch.relay").Start(ctx, "relay.publish")
	defer span.End()

	subject := event.Subject
	if subject == "" {
		subject = r.cfg.SubjectPrefix + ".events"
	}
	payload, err := json.Marshal(wireEvent{
		BookingID: event.BookingID.String(),
		Type:      event.Type,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("x-event-type", event.Type)
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}

	var attempt int
	for {
		attempt++
		err := r.publisher.PublishMsg(msg)
		if err == nil {
			relayPublishTotal.Inc()
			relayLagSeconds.Set(r.clock.Now().Sub(event.CreatedAt).Seconds())
			return nil
		}
		r.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.String("subject", subject))
		if attempt >= r.cfg.RetryMax {
			relayFailTotal.Inc()
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type wireEvent struct {
	BookingID string         `json:"bookingId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
