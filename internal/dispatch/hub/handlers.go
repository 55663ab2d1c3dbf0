package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Inbound event names accepted over the socket.
const (
	EventDriverLocation   = "dispatch.driver.location"
	EventDriverStatus     = "dispatch.driver.status"
	EventCustomerLocation = "dispatch.customer.location"
)

// DriverLocationIn is the driver's live fix. Values are relayed exactly as
// received; rounding only happens on the durable read path.
type DriverLocationIn struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	HeadingDeg *float64 `json:"headingDeg,omitempty"`
	SpeedMps   *float64 `json:"speedMps,omitempty"`
	AccuracyM  *float64 `json:"accuracyM,omitempty"`
}

type DriverStatusIn struct {
	Status string `json:"status"`
}

type CustomerLocationIn struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	AccuracyM *float64 `json:"accuracyM,omitempty"`
}

// HandleDriverLocation stores the fallback fix and fans the reading out to
// the booking room and admins. Wrong-role submissions are a silent no-op.
func (h *Hub) HandleDriverLocation(ctx context.Context, c *Client, in DriverLocationIn) bool {
	if c.admin || c.session.Kind != domain.KindDriver {
		inboundEvents.WithLabelValues(EventDriverLocation, "rejected").Inc()
		return false
	}
	sess := c.session
	fix := domain.LiveFix{
		Lat:        in.Lat,
		Lon:        in.Lon,
		HeadingDeg: in.HeadingDeg,
		SpeedMps:   in.SpeedMps,
		AccuracyM:  in.AccuracyM,
		RecordedAt: h.clock.Now(),
	}
	if h.fixes != nil {
		if err := h.fixes.Put(ctx, "booking:"+sess.BookingID.String(), fix, h.cfg.FixTTL); err != nil {
			h.logger.Warn("fallback fix store failed", zap.Error(err))
		}
	}

	h.Broadcast(BookingRoom(sess.BookingID), Envelope{Event: EventDriverLocation, Data: in})
	h.Broadcast(AdminRoom, Envelope{Event: "dispatch.journey.driver.location", Data: adminFix(sess.BookingID.String(), in)})
	inboundEvents.WithLabelValues(EventDriverLocation, "ok").Inc()
	return true
}

// HandleDriverStatus updates the journey stage. Persistence is delegated to
// the booking system; the hub only broadcasts and relays the event.
func (h *Hub) HandleDriverStatus(ctx context.Context, c *Client, in DriverStatusIn) bool {
	if c.admin || c.session.Kind != domain.KindDriver {
		inboundEvents.WithLabelValues(EventDriverStatus, "rejected").Inc()
		return false
	}
	status := domain.JourneyStatus(in.Status)
	if in.Status == "" || !status.Known() {
		inboundEvents.WithLabelValues(EventDriverStatus, "rejected").Inc()
		return false
	}
	sess := c.session
	now := h.clock.Now()
	if err := h.gw.SetJourneyStatus(ctx, sess.BookingID, status, now); err != nil {
		h.logger.Warn("journey status write-through failed", zap.Error(err))
		inboundEvents.WithLabelValues(EventDriverStatus, "error").Inc()
		return false
	}

	payload := map[string]any{"status": string(status), "updatedAt": now}
	h.Broadcast(BookingRoom(sess.BookingID), Envelope{Event: EventDriverStatus, Data: payload})
	h.Broadcast(AdminRoom, Envelope{Event: "dispatch.journey.status", Data: map[string]any{
		"bookingId": sess.BookingID.String(),
		"status":    string(status),
		"updatedAt": now,
	}})
	h.publish(ctx, domain.Event{
		Subject:   "dispatch.journey.status",
		BookingID: sess.BookingID,
		Type:      "JourneyStatusChanged",
		Payload:   map[string]any{"status": string(status)},
		CreatedAt: now,
	})
	inboundEvents.WithLabelValues(EventDriverStatus, "ok").Inc()
	return true
}

// HandleCustomerLocation relays the customer's position. Never persisted;
// it exists only as the latest broadcast value.
func (h *Hub) HandleCustomerLocation(_ context.Context, c *Client, in CustomerLocationIn) bool {
	if c.admin || c.session.Kind != domain.KindCustomer {
		inboundEvents.WithLabelValues(EventCustomerLocation, "rejected").Inc()
		return false
	}
	sess := c.session
	h.Broadcast(BookingRoom(sess.BookingID), Envelope{Event: EventCustomerLocation, Data: in})
	h.Broadcast(AdminRoom, Envelope{Event: "dispatch.journey.customer.location", Data: map[string]any{
		"bookingId": sess.BookingID.String(),
		"lat":       in.Lat,
		"lon":       in.Lon,
		"accuracyM": in.AccuracyM,
	}})
	inboundEvents.WithLabelValues(EventCustomerLocation, "ok").Inc()
	return true
}

func adminFix(bookingID string, in DriverLocationIn) map[string]any {
	data := map[string]any{
		"bookingId": bookingID,
		"lat":       in.Lat,
		"lon":       in.Lon,
	}
	if in.HeadingDeg != nil {
		data["headingDeg"] = *in.HeadingDeg
	}
	if in.SpeedMps != nil {
		data["speedMps"] = *in.SpeedMps
	}
	if in.AccuracyM != nil {
		data["accuracyM"] = *in.AccuracyM
	}
	return data
}
