package link

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// genericMessage is returned by every public issuance path regardless of
// whether anything matched, so the endpoint cannot be used to enumerate
// accounts or bookings.
const genericMessage = "If a matching booking exists, a dispatch link has been sent."

// Config tunes link issuance.
type Config struct {
	TTL        time.Duration
	DomainRoot string
	// ReturnLink echoes the raw URL in responses. Off in production; the
	// email is the delivery channel there.
	ReturnLink bool
}

// Service creates dispatch tokens and shareable tracking URLs.
type Service struct {
	tokens domain.TokenStore
	gw     domain.Gateway
	mailer domain.EmailSender
	events domain.EventPublisher
	clock  domain.Clock
	logger *zap.Logger
	cfg    Config
}

// New constructs the service.
func New(tokens domain.TokenStore, gw domain.Gateway, mailer domain.EmailSender, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.DomainRoot == "" {
		cfg.DomainRoot = "http://localhost:8080"
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tokens: tokens, gw: gw, mailer: mailer, events: events, clock: clock, logger: logger, cfg: cfg}
}

// Response is the issuance result. Link is populated only when configured.
type Response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// IssueLink creates a fresh token for the booking and optionally emails the
// share link. Privileged flow: missing booking or location is reported as a
// descriptive NotFound since the caller already knows the booking exists.
func (s *Service) IssueLink(ctx context.Context, bookingID uuid.UUID, emailOverride string) (Response, error) {
	booking, err := s.gw.BookingByID(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return Response{}, fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	if err != nil {
		return Response{}, err
	}
	location, err := s.gw.LocationByBookingID(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return Response{}, fmt.Errorf("location for booking %s: %w", bookingID, domain.ErrNotFound)
	}
	if err != nil {
		return Response{}, err
	}

	recipient := strings.TrimSpace(emailOverride)
	if recipient == "" {
		recipient = strings.TrimSpace(booking.CustomerEmail)
	}

	url, err := s.issue(ctx, booking)
	if err != nil {
		return Response{}, err
	}

	// Issuance succeeds even with no delivery target; admins paste the
	// link into their own channel.
	if recipient != "" {
		s.sendNotification(ctx, recipient, booking, location, url)
	}

	resp := Response{OK: true, Message: genericMessage}
	if s.cfg.ReturnLink {
		resp.Link = url
	}
	return resp, nil
}

// RequestMagicLinkByEmail is the public self-service variant. The response
// is byte-identical whether the email matched no user, a user without an
// eligible booking, or a fully valid target.
func (s *Service) RequestMagicLinkByEmail(ctx context.Context, email, bookingNumber string) (Response, error) {
	generic := Response{OK: true, Message: genericMessage}

	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return generic, nil
	}
	user, err := s.gw.UserByEmail(ctx, normalized)
	if err != nil {
		// Unknown accounts and store hiccups alike fall through silently.
		return generic, nil
	}
	booking, err := s.gw.LatestActiveBooking(ctx, user.ID, strings.TrimSpace(bookingNumber))
	if err != nil {
		return generic, nil
	}

	url, err := s.issue(ctx, booking)
	if err != nil {
		s.logger.Warn("magic link issuance failed", zap.Error(err))
		return generic, nil
	}
	s.sendNotification(ctx, user.Email, booking, domain.Location{}, url)

	if s.cfg.ReturnLink {
		generic.Link = url
	}
	return generic, nil
}

// issue generates the token, stores it under the configured TTL and returns
// the public tracking URL.
func (s *Service) issue(ctx context.Context, booking domain.Booking) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.tokens.Put(ctx, token, booking.ID, s.cfg.TTL); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if s.events != nil {
		_ = s.events.Publish(ctx, domain.Event{
			Subject:   "dispatch.link.issued",
			BookingID: booking.ID,
			Type:      "LinkIssued",
			Payload:   map[string]any{"ttl_seconds": int64(s.cfg.TTL.Seconds())},
			CreatedAt: s.clock.Now(),
		})
	}
	return strings.TrimRight(s.cfg.DomainRoot, "/") + "/track/" + token, nil
}

// sendNotification is fire-and-forget: delivery failure is logged and never
// fails issuance.
func (s *Service) sendNotification(ctx context.Context, to string, booking domain.Booking, location domain.Location, url string) {
	if s.mailer == nil {
		return
	}
	subject := "Your live dispatch link"
	if booking.BookingNumber != "" {
		subject = fmt.Sprintf("Your live dispatch link for booking %s", booking.BookingNumber)
	}
	var b strings.Builder
	b.WriteString("Follow your driver live:\n\n")
	b.WriteString(url)
	b.WriteString("\n")
	if location.PickupAddress != "" {
		fmt.Fprintf(&b, "\nPickup: %s\n", location.PickupAddress)
	}
	if location.DropoffAddress != "" {
		fmt.Fprintf(&b, "Dropoff: %s\n", location.DropoffAddress)
	}
	if booking.ScheduledPickup != nil {
		fmt.Fprintf(&b, "Scheduled pickup: %s\n", booking.ScheduledPickup.Format(time.RFC1123))
	}
	if err := s.mailer.Send(ctx, to, subject, b.String()); err != nil {
		s.logger.Warn("dispatch link email failed",
			zap.String("booking_id", booking.ID.String()), zap.Error(err))
	}
}

// newToken returns 256 bits of hex-encoded randomness.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
