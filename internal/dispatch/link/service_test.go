package link_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/link"
	"github.com/example/livedispatch/internal/dispatch/token"
	"github.com/example/livedispatch/internal/gateway"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubMailer struct {
	sent []sentMail
	err  error
}

type sentMail struct{ to, subject, body string }

func (m *stubMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return m.err
}

func ptr[T any](v T) *T { return &v }

func seedBooking(gw *gateway.Memory) domain.Booking {
	booking := domain.Booking{
		ID:              uuid.New(),
		BookingNumber:   "TB-2002",
		Status:          domain.BookingConfirmed,
		CustomerID:      uuid.New(),
		CustomerEmail:   "Rider@Example.com",
		ScheduledPickup: ptr(time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)),
	}
	gw.PutBooking(booking)
	gw.PutLocation(domain.Location{
		BookingID:      booking.ID,
		PickupAddress:  "10 Downing St",
		DropoffAddress: "Heathrow T5",
	})
	gw.PutUser(domain.User{ID: booking.CustomerID, Email: "rider@example.com"})
	return booking
}

func newService(store domain.TokenStore, gw domain.Gateway, mailer domain.EmailSender, cfg link.Config) *link.Service {
	clock := fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return link.New(store, gw, mailer, nil, clock, zap.NewNop(), cfg)
}

func TestIssueLinkRoundTrip(t *testing.T) {
	clock := fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := token.NewMemoryTokenStore(clock)
	gw := gateway.NewMemory()
	booking := seedBooking(gw)
	mailer := &stubMailer{}

	svc := newService(store, gw, mailer, link.Config{
		TTL:        time.Hour,
		DomainRoot: "https://rides.example.com/",
		ReturnLink: true,
	})

	resp, err := svc.IssueLink(context.Background(), booking.ID, "")
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.True(t, strings.HasPrefix(resp.Link, "https://rides.example.com/track/"), resp.Link)

	tok := strings.TrimPrefix(resp.Link, "https://rides.example.com/track/")
	require.Len(t, tok, 64) // 256 bits hex-encoded

	resolved, ok, err := store.Get(context.Background(), tok)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, booking.ID, resolved)
}

func TestIssueLinkEmailsCustomer(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	gw := gateway.NewMemory()
	booking := seedBooking(gw)
	mailer := &stubMailer{}

	svc := newService(store, gw, mailer, link.Config{TTL: time.Hour, DomainRoot: "https://rides.example.com"})
	_, err := svc.IssueLink(context.Background(), booking.ID, "")
	require.NoError(t, err)

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "Rider@Example.com", mailer.sent[0].to)
	require.Contains(t, mailer.sent[0].subject, "TB-2002")
	require.Contains(t, mailer.sent[0].body, "/track/")
	require.Contains(t, mailer.sent[0].body, "10 Downing St")
}

func TestIssueLinkEmailOverrideAndNoRecipient(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	gw := gateway.NewMemory()
	booking := seedBooking(gw)
	booking.CustomerEmail = ""
	gw.PutBooking(booking)
	mailer := &stubMailer{}

	svc := newService(store, gw, mailer, link.Config{TTL: time.Hour, DomainRoot: "https://rides.example.com"})

	// No recipient at all: issuance still succeeds, nothing is sent.
	resp, err := svc.IssueLink(context.Background(), booking.ID, "")
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Empty(t, mailer.sent)

	// Explicit override wins.
	_, err = svc.IssueLink(context.Background(), booking.ID, "ops@example.com")
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "ops@example.com", mailer.sent[0].to)
}

func TestIssueLinkEmailFailureDoesNotFailIssuance(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	gw := gateway.NewMemory()
	booking := seedBooking(gw)
	mailer := &stubMailer{err: context.DeadlineExceeded}

	svc := newService(store, gw, mailer, link.Config{TTL: time.Hour, DomainRoot: "https://rides.example.com"})
	resp, err := svc.IssueLink(context.Background(), booking.ID, "")
	require.NoError(t, err)
	require.True(t, resp.OK)
}

func TestIssueLinkUnknownBooking(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	svc := newService(store, gateway.NewMemory(), &stubMailer{}, link.Config{TTL: time.Hour})

	_, err := svc.IssueLink(context.Background(), uuid.New(), "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMagicLinkResponsesAreIndistinguishable(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	gw := gateway.NewMemory()
	booking := seedBooking(gw)

	// A second user with only a terminal booking.
	doneUser := domain.User{ID: uuid.New(), Email: "done@example.com"}
	gw.PutUser(doneUser)
	gw.PutBooking(domain.Booking{
		ID:         uuid.New(),
		Status:     domain.BookingCompleted,
		CustomerID: doneUser.ID,
	})

	svc := newService(store, gw, &stubMailer{}, link.Config{TTL: time.Hour, DomainRoot: "https://rides.example.com"})

	match, err := svc.RequestMagicLinkByEmail(context.Background(), "RIDER@example.com", "")
	require.NoError(t, err)
	noUser, err := svc.RequestMagicLinkByEmail(context.Background(), "ghost@example.com", "")
	require.NoError(t, err)
	noBooking, err := svc.RequestMagicLinkByEmail(context.Background(), "done@example.com", "")
	require.NoError(t, err)
	wrongNumber, err := svc.RequestMagicLinkByEmail(context.Background(), "rider@example.com", "TB-9999")
	require.NoError(t, err)

	require.Equal(t, match, noUser)
	require.Equal(t, match, noBooking)
	require.Equal(t, match, wrongNumber)
	require.True(t, match.OK)
	require.NotEmpty(t, match.Message)

	_ = booking
}

func TestMagicLinkIssuesForValidTarget(t *testing.T) {
	store := token.NewMemoryTokenStore(fixedClock{t: time.Now()})
	gw := gateway.NewMemory()
	booking := seedBooking(gw)
	mailer := &stubMailer{}

	svc := newService(store, gw, mailer, link.Config{TTL: time.Hour, DomainRoot: "https://rides.example.com", ReturnLink: true})
	resp, err := svc.RequestMagicLinkByEmail(context.Background(), "rider@example.com", "TB-2002")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Link)
	require.Len(t, mailer.sent, 1)

	tok := strings.TrimPrefix(resp.Link, "https://rides.example.com/track/")
	resolved, ok, err := store.Get(context.Background(), tok)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, booking.ID, resolved)
}
