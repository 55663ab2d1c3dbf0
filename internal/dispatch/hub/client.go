package hub

import (
	"context"
	"sync"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Client is one admitted connection's hub-side handle. The transport layer
// drains Outbound and calls Disconnect when the socket dies; everything else
// happens through the hub.
type Client struct {
	hub     *Hub
	session domain.Session
	admin   bool

	send    chan Envelope
	done    chan struct{}
	roomSet map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, sess domain.Session, admin bool, buffer int) *Client {
	return &Client{
		hub:     h,
		session: sess,
		admin:   admin,
		send:    make(chan Envelope, buffer),
		done:    make(chan struct{}),
		roomSet: make(map[string]struct{}),
	}
}

// Session returns the resolved session; zero for admin clients.
func (c *Client) Session() domain.Session { return c.session }

// Outbound is the ordered stream of envelopes for this connection.
func (c *Client) Outbound() <-chan Envelope { return c.send }

// Done closes when the client has been disconnected.
func (c *Client) Done() <-chan struct{} { return c.done }

// enqueue delivers without blocking; a client that cannot keep up is
// scheduled for disconnect so it never stalls a room.
func (c *Client) enqueue(env Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- env:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		slowConsumersTotal.Inc()
		go c.hub.Disconnect(context.Background(), c)
	}
}

func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}
