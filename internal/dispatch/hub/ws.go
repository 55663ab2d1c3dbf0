package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/session"
)

const (
	authDeadline  = 5 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	maxFrameBytes = 1 << 16
)

// wire is the envelope every client frame arrives in.
type wire struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authFrame struct {
	DispatchToken string `json:"dispatchToken"`
	Kind          string `json:"kind"`
}

type ack struct {
	Event string `json:"event"`
	OK    bool   `json:"ok"`
}

// WSHandler upgrades HTTP requests onto the hub.
type WSHandler struct {
	hub      *Hub
	resolver *session.Resolver
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler constructs the transport. allowedOrigins mirrors the CORS
// allow-list; empty means same-origin browsers only plus non-browser clients.
func NewWSHandler(h *Hub, resolver *session.Resolver, logger *zap.Logger, allowedOrigins []string) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &WSHandler{
		hub:      h,
		resolver: resolver,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed["*"]; ok {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeDispatch admits token-gated customer/driver sockets. The first frame
// must be a dispatch.auth envelope; anything else closes the socket with no
// error payload so token probing looks identical to a network blip.
func (h *WSHandler) ServeDispatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(authDeadline))

	var frame wire
	if err := conn.ReadJSON(&frame); err != nil || frame.Event != "dispatch.auth" {
		return
	}
	var auth authFrame
	if err := json.Unmarshal(frame.Data, &auth); err != nil {
		return
	}
	sess, err := h.resolver.Resolve(r.Context(), auth.DispatchToken, domain.SessionKind(auth.Kind))
	if err != nil {
		// Deliberately silent: no payload distinguishes a bad token.
		return
	}

	client := h.hub.Connect(r.Context(), sess)
	defer h.hub.Disconnect(r.Context(), client)

	go h.writePump(conn, client)
	h.readPump(r.Context(), conn, client)
}

// ServeAdmin admits operator sockets into the admins room. Authentication
// happens in middleware before the upgrade; admin sockets are listen-only.
func (h *WSHandler) ServeAdmin(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrameBytes)
	client := h.hub.ConnectAdmin()
	defer h.hub.Disconnect(r.Context(), client)

	go h.writePump(conn, client)

	// Drain and ignore inbound frames until the socket dies.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		var frame wire
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		ok := h.dispatch(ctx, client, frame)
		client.enqueue(Envelope{Event: "dispatch.ack", Data: ack{Event: frame.Event, OK: ok}})
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *Client, frame wire) bool {
	switch frame.Event {
	case EventDriverLocation:
		var in DriverLocationIn
		if err := json.Unmarshal(frame.Data, &in); err != nil {
			return false
		}
		return h.hub.HandleDriverLocation(ctx, client, in)
	case EventDriverStatus:
		var in DriverStatusIn
		if err := json.Unmarshal(frame.Data, &in); err != nil {
			return false
		}
		return h.hub.HandleDriverStatus(ctx, client, in)
	case EventCustomerLocation:
		var in CustomerLocationIn
		if err := json.Unmarshal(frame.Data, &in); err != nil {
			return false
		}
		return h.hub.HandleCustomerLocation(ctx, client, in)
	default:
		return false
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-client.Outbound():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(env); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				_ = conn.Close()
				return
			}
		case <-client.Done():
			_ = conn.Close()
			return
		}
	}
}
