package hub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/hub"
	"github.com/example/livedispatch/internal/dispatch/session"
	"github.com/example/livedispatch/internal/dispatch/token"
)

type wsFixture struct {
	h       *harness
	tokens  *token.MemoryTokenStore
	server  *httptest.Server
	booking domain.Booking
}

func newWSFixture(t *testing.T, allowedOrigins []string) *wsFixture {
	t.Helper()
	h := newHarness(t)
	booking := h.seedBooking()
	tokens := token.NewMemoryTokenStore(h.clock)
	ws := hub.NewWSHandler(h.hub, session.NewResolver(tokens), zap.NewNop(), allowedOrigins)
	server := httptest.NewServer(http.HandlerFunc(ws.ServeDispatch))
	t.Cleanup(server.Close)
	return &wsFixture{h: h, tokens: tokens, server: server, booking: booking}
}

func (f *wsFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *wsFixture) issueToken(t *testing.T) string {
	t.Helper()
	tok := "tok-ws-" + f.booking.ID.String()
	require.NoError(t, f.tokens.Put(context.Background(), tok, f.booking.ID, time.Hour))
	return tok
}

func dialWS(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsEnvelope{Event: event, Data: payload}))
}

func authFrame(token, kind string) map[string]string {
	return map[string]string{"dispatchToken": token, "kind": kind}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServeDispatchInvalidTokenClosesSilently(t *testing.T) {
	f := newWSFixture(t, nil)
	conn := dialWS(t, f.wsURL(), "")

	sendFrame(t, conn, "dispatch.auth", authFrame("bogus", "customer"))

	// The very first read fails: the socket is closed with no error payload
	// that would distinguish a bad token from a network blip.
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServeDispatchNonAuthFirstFrameCloses(t *testing.T) {
	f := newWSFixture(t, nil)
	tok := f.issueToken(t)
	conn := dialWS(t, f.wsURL(), "")

	// A valid token cannot skip the handshake frame.
	sendFrame(t, conn, "dispatch.driver.location", map[string]any{
		"lat": 51.5, "lon": -0.1, "dispatchToken": tok,
	})

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServeDispatchUnknownKindCloses(t *testing.T) {
	f := newWSFixture(t, nil)
	tok := f.issueToken(t)
	conn := dialWS(t, f.wsURL(), "")

	sendFrame(t, conn, "dispatch.auth", authFrame(tok, "admin"))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestServeDispatchDriverFlow(t *testing.T) {
	f := newWSFixture(t, nil)
	tok := f.issueToken(t)
	conn := dialWS(t, f.wsURL(), "")

	sendFrame(t, conn, "dispatch.auth", authFrame(tok, "driver"))

	connected := readEnvelope(t, conn)
	require.Equal(t, "dispatch.connected", connected.Event)
	var welcome struct {
		OK        bool   `json:"ok"`
		BookingID string `json:"bookingId"`
		Kind      string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(connected.Data, &welcome))
	require.True(t, welcome.OK)
	require.Equal(t, f.booking.ID.String(), welcome.BookingID)
	require.Equal(t, "driver", welcome.Kind)

	sendFrame(t, conn, "dispatch.driver.location", map[string]any{
		"lat": 51.5, "lon": -0.1, "speedMps": 12.345,
	})

	// The sender is in its own booking room, so it gets the relayed fix and
	// then the ack for the inbound frame.
	relayed := readEnvelope(t, conn)
	require.Equal(t, "dispatch.driver.location", relayed.Event)
	var fix struct {
		Lat      float64  `json:"lat"`
		SpeedMps *float64 `json:"speedMps"`
	}
	require.NoError(t, json.Unmarshal(relayed.Data, &fix))
	require.Equal(t, 51.5, fix.Lat)
	require.Equal(t, 12.345, *fix.SpeedMps)

	ack := readEnvelope(t, conn)
	require.Equal(t, "dispatch.ack", ack.Event)
	var acked struct {
		Event string `json:"event"`
		OK    bool   `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(ack.Data, &acked))
	require.Equal(t, "dispatch.driver.location", acked.Event)
	require.True(t, acked.OK)
}

func TestServeDispatchAckReportsRejection(t *testing.T) {
	f := newWSFixture(t, nil)
	tok := f.issueToken(t)
	conn := dialWS(t, f.wsURL(), "")

	sendFrame(t, conn, "dispatch.auth", authFrame(tok, "customer"))
	require.Equal(t, "dispatch.connected", readEnvelope(t, conn).Event)

	// Wrong role: nothing is broadcast, only the negative ack comes back.
	sendFrame(t, conn, "dispatch.driver.location", map[string]any{"lat": 1.0, "lon": 2.0})

	env := readEnvelope(t, conn)
	require.Equal(t, "dispatch.ack", env.Event)
	var acked struct {
		Event string `json:"event"`
		OK    bool   `json:"ok"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &acked))
	require.False(t, acked.OK)
}

func TestServeDispatchOriginAllowList(t *testing.T) {
	f := newWSFixture(t, []string{"https://app.example.com"})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), http.Header{
		"Origin": []string{"https://evil.example.com"},
	})
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	conn := dialWS(t, f.wsURL(), "https://app.example.com")
	tok := f.issueToken(t)
	sendFrame(t, conn, "dispatch.auth", authFrame(tok, "driver"))
	require.Equal(t, "dispatch.connected", readEnvelope(t, conn).Event)
}
