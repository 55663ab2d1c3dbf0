package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// AdminRoom receives a mirror of every booking's journey traffic plus link
// lifecycle events.
const AdminRoom = "admins"

// BookingRoom is the all-participants scope for one booking.
func BookingRoom(id uuid.UUID) string { return "dispatch:" + id.String() }

// KindRoom is the kind-specific scope for one booking.
func KindRoom(id uuid.UUID, kind domain.SessionKind) string {
	return "dispatch:" + id.String() + ":" + string(kind)
}

// Envelope is the wire shape of every server-to-client event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Config tunes the hub.
type Config struct {
	// FixTTL bounds how long a socket-pushed fallback fix may be served.
	FixTTL time.Duration
	// SendBuffer is the per-client outbound queue length. A client that
	// cannot drain it is dropped rather than blocking the room.
	SendBuffer int
}

// Hub is the room registry and fan-out engine. All mutation happens at
// room/connection granularity under one lock; broadcasts only enqueue.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	gw     domain.Gateway
	fixes  domain.FixCache
	events domain.EventPublisher
	clock  domain.Clock
	logger *zap.Logger
	cfg    Config
}

// New constructs a hub.
func New(gw domain.Gateway, fixes domain.FixCache, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger, cfg Config) *Hub {
	if cfg.FixTTL <= 0 {
		cfg.FixTTL = 5 * time.Minute
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		gw:     gw,
		fixes:  fixes,
		events: events,
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

// Connect admits a resolved session: the client joins its booking and kind
// rooms, admins are notified, and the socket gets its connected ack.
func (h *Hub) Connect(ctx context.Context, sess domain.Session) *Client {
	c := newClient(h, sess, false, h.cfg.SendBuffer)
	now := h.clock.Now()

	h.join(BookingRoom(sess.BookingID), c)
	h.join(KindRoom(sess.BookingID, sess.Kind), c)
	connectionsActive.WithLabelValues(string(sess.Kind)).Inc()

	if sess.Kind == domain.KindCustomer {
		h.touchCustomerSeen(ctx, sess.BookingID)
	}

	h.Broadcast(AdminRoom, Envelope{Event: "dispatch.link.connected", Data: map[string]any{
		"bookingId":   sess.BookingID.String(),
		"kind":        string(sess.Kind),
		"connectedAt": now,
	}})
	c.enqueue(Envelope{Event: "dispatch.connected", Data: map[string]any{
		"ok":        true,
		"bookingId": sess.BookingID.String(),
		"kind":      string(sess.Kind),
	}})

	h.logger.Info("dispatch link connected",
		zap.String("booking_id", sess.BookingID.String()),
		zap.String("kind", string(sess.Kind)))
	return c
}

// ConnectAdmin admits an operator socket into the admins room.
func (h *Hub) ConnectAdmin() *Client {
	c := newClient(h, domain.Session{}, true, h.cfg.SendBuffer)
	h.join(AdminRoom, c)
	connectionsActive.WithLabelValues("admin").Inc()
	return c
}

// Disconnect removes the client from every room and mirrors the lifecycle
// event to admins. Safe to call more than once.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	if !c.markClosed() {
		return
	}
	h.leaveAll(c)

	if c.admin {
		connectionsActive.WithLabelValues("admin").Dec()
		return
	}
	sess := c.session
	connectionsActive.WithLabelValues(string(sess.Kind)).Dec()

	if sess.Kind == domain.KindCustomer {
		// Second touch: proxy for "the customer stopped watching".
		h.touchCustomerSeen(ctx, sess.BookingID)
	}
	h.Broadcast(AdminRoom, Envelope{Event: "dispatch.link.disconnected", Data: map[string]any{
		"bookingId":      sess.BookingID.String(),
		"kind":           string(sess.Kind),
		"disconnectedAt": h.clock.Now(),
	}})
	h.logger.Info("dispatch link disconnected",
		zap.String("booking_id", sess.BookingID.String()),
		zap.String("kind", string(sess.Kind)))
}

// Broadcast enqueues the envelope for every member of the room. Members
// whose buffers are full are dropped asynchronously.
func (h *Hub) Broadcast(room string, env Envelope) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.enqueue(env)
	}
	broadcastsTotal.WithLabelValues(env.Event).Add(float64(len(members)))
}

func (h *Hub) join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.roomSet[room] = struct{}{}
}

func (h *Hub) leaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range c.roomSet {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.roomSet = make(map[string]struct{})
}

func (h *Hub) touchCustomerSeen(ctx context.Context, bookingID uuid.UUID) {
	if err := h.gw.TouchCustomerSeen(ctx, bookingID, h.clock.Now()); err != nil {
		h.logger.Warn("touch customer seen failed",
			zap.String("booking_id", bookingID.String()), zap.Error(err))
	}
}

func (h *Hub) publish(ctx context.Context, event domain.Event) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, event); err != nil {
		h.logger.Warn("event publish failed", zap.String("type", event.Type), zap.Error(err))
	}
}
