package hub_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/hub"
	"github.com/example/livedispatch/internal/dispatch/token"
	"github.com/example/livedispatch/internal/gateway"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordedEvent struct{ event domain.Event }

type stubPublisher struct{ events []recordedEvent }

func (p *stubPublisher) Publish(_ context.Context, event domain.Event) error {
	p.events = append(p.events, recordedEvent{event: event})
	return nil
}

func ptr[T any](v T) *T { return &v }

type harness struct {
	hub    *hub.Hub
	gw     *gateway.Memory
	fixes  *token.MemoryFixCache
	events *stubPublisher
	clock  fixedClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	gw := gateway.NewMemory()
	fixes := token.NewMemoryFixCache(clock)
	events := &stubPublisher{}
	h := hub.New(gw, fixes, events, clock, zap.NewNop(), hub.Config{FixTTL: time.Minute})
	return &harness{hub: h, gw: gw, fixes: fixes, events: events, clock: clock}
}

func (h *harness) seedBooking() domain.Booking {
	booking := domain.Booking{
		ID:         uuid.New(),
		Status:     domain.BookingDriverAssigned,
		CustomerID: uuid.New(),
	}
	h.gw.PutBooking(booking)
	return booking
}

// next pops one envelope or fails the test.
func next(t *testing.T, c *hub.Client) hub.Envelope {
	t.Helper()
	select {
	case env := <-c.Outbound():
		return env
	case <-time.After(time.Second):
		t.Fatal("expected an envelope")
		return hub.Envelope{}
	}
}

// drain empties the client's outbound queue.
func drain(c *hub.Client) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func TestConnectEmitsAdminAndSelfEvents(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	customer := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})

	adminEnv := next(t, admin)
	require.Equal(t, "dispatch.link.connected", adminEnv.Event)
	data := adminEnv.Data.(map[string]any)
	require.Equal(t, booking.ID.String(), data["bookingId"])
	require.Equal(t, "customer", data["kind"])

	selfEnv := next(t, customer)
	require.Equal(t, "dispatch.connected", selfEnv.Event)
	self := selfEnv.Data.(map[string]any)
	require.Equal(t, true, self["ok"])
	require.Equal(t, "customer", self["kind"])

	// Customer connection touches last-seen.
	stored, err := h.gw.BookingByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CustomerSeenAt)
	require.Equal(t, h.clock.t, *stored.CustomerSeenAt)
}

func TestDisconnectNotifiesAdmins(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	drain(admin)
	drain(driver)

	h.hub.Disconnect(ctx, driver)

	env := next(t, admin)
	require.Equal(t, "dispatch.link.disconnected", env.Event)
	data := env.Data.(map[string]any)
	require.Equal(t, "driver", data["kind"])

	// Idempotent: a second disconnect emits nothing further.
	h.hub.Disconnect(ctx, driver)
	select {
	case env := <-admin.Outbound():
		t.Fatalf("unexpected envelope %q", env.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoleIsolationCustomerCannotPushDriverEvents(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	customer := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})
	watcher := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})
	drain(admin)
	drain(customer)
	drain(watcher)

	ok := h.hub.HandleDriverLocation(ctx, customer, hub.DriverLocationIn{Lat: 51.5, Lon: -0.1})
	require.False(t, ok)
	ok = h.hub.HandleDriverStatus(ctx, customer, hub.DriverStatusIn{Status: "ON_ROUTE"})
	require.False(t, ok)

	// No broadcast reached anyone.
	for _, c := range []*hub.Client{admin, customer, watcher} {
		select {
		case env := <-c.Outbound():
			t.Fatalf("unexpected envelope %q", env.Event)
		case <-time.After(50 * time.Millisecond):
		}
	}

	// Mirror check: a driver cannot push customer locations.
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	drain(driver)
	require.False(t, h.hub.HandleCustomerLocation(ctx, driver, hub.CustomerLocationIn{Lat: 1, Lon: 2}))
}

func TestDriverLocationFanOut(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	other := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	customer := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})
	stranger := h.hub.Connect(ctx, domain.Session{BookingID: other.ID, Kind: domain.KindCustomer})
	drain(admin)
	drain(driver)
	drain(customer)
	drain(stranger)

	in := hub.DriverLocationIn{Lat: 51.5, Lon: -0.1, SpeedMps: ptr(12.345)}
	require.True(t, h.hub.HandleDriverLocation(ctx, driver, in))

	// Every booking-room member receives the raw reading.
	for _, c := range []*hub.Client{driver, customer} {
		env := next(t, c)
		require.Equal(t, "dispatch.driver.location", env.Event)
		got := env.Data.(hub.DriverLocationIn)
		require.Equal(t, 51.5, got.Lat)
		// Live relays are not rounded.
		require.Equal(t, 12.345, *got.SpeedMps)
	}

	// Admins receive the fix embedded with the booking id.
	env := next(t, admin)
	require.Equal(t, "dispatch.journey.driver.location", env.Event)
	data := env.Data.(map[string]any)
	require.Equal(t, booking.ID.String(), data["bookingId"])
	require.Equal(t, 12.345, data["speedMps"])

	// Other bookings hear nothing.
	select {
	case env := <-stranger.Outbound():
		t.Fatalf("unexpected envelope %q", env.Event)
	case <-time.After(50 * time.Millisecond):
	}

	// The reading was stored as the booking's fallback fix.
	fix, ok, err := h.fixes.Get(ctx, "booking:"+booking.ID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 51.5, fix.Lat)
	require.Equal(t, 12.345, *fix.SpeedMps)
}

func TestDriverStatusUpdatesJourneyAndPublishes(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	drain(admin)
	drain(driver)

	require.True(t, h.hub.HandleDriverStatus(ctx, driver, hub.DriverStatusIn{Status: "PASSENGER_ON_BOARD"}))

	stored, err := h.gw.BookingByID(ctx, booking.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JourneyPassengerOnBoard, stored.JourneyStatus)

	env := next(t, driver)
	require.Equal(t, "dispatch.driver.status", env.Event)

	adminEnv := next(t, admin)
	require.Equal(t, "dispatch.journey.status", adminEnv.Event)
	data := adminEnv.Data.(map[string]any)
	require.Equal(t, "PASSENGER_ON_BOARD", data["status"])

	require.Len(t, h.events.events, 1)
	require.Equal(t, "JourneyStatusChanged", h.events.events[0].event.Type)
	require.Equal(t, booking.ID, h.events.events[0].event.BookingID)
}

func TestDriverStatusRejectsEmptyAndUnknown(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	drain(driver)

	require.False(t, h.hub.HandleDriverStatus(ctx, driver, hub.DriverStatusIn{Status: ""}))
	require.False(t, h.hub.HandleDriverStatus(ctx, driver, hub.DriverStatusIn{Status: "WARP_SPEED"}))
	require.Empty(t, h.events.events)
}

func TestCustomerLocationIsBroadcastNotPersisted(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	admin := h.hub.ConnectAdmin()
	customer := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})
	driver := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindDriver})
	drain(admin)
	drain(customer)
	drain(driver)

	require.True(t, h.hub.HandleCustomerLocation(ctx, customer, hub.CustomerLocationIn{Lat: 51.49, Lon: -0.14}))

	env := next(t, driver)
	require.Equal(t, "dispatch.customer.location", env.Event)

	adminEnv := next(t, admin)
	require.Equal(t, "dispatch.journey.customer.location", adminEnv.Event)

	// Nothing lands in the fix cache for customers.
	_, ok, err := h.fixes.Get(ctx, "booking:"+booking.ID.String())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCustomerDisconnectTouchesLastSeenAgain(t *testing.T) {
	h := newHarness(t)
	booking := h.seedBooking()
	ctx := context.Background()

	customer := h.hub.Connect(ctx, domain.Session{BookingID: booking.ID, Kind: domain.KindCustomer})
	h.hub.Disconnect(ctx, customer)

	stored, err := h.gw.BookingByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CustomerSeenAt)
}
