package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Memory implements the booking data gateway in-process for tests and local
// demos. Seed it through the Put helpers before use.
type Memory struct {
	mu        sync.RWMutex
	bookings  map[uuid.UUID]domain.Booking
	locations map[uuid.UUID]domain.Location
	trips     map[uuid.UUID]domain.Trip
	fixes     map[uuid.UUID][]domain.LiveFix
	users     map[string]domain.User

	// FailReads forces every read to report ErrUnavailable, for exercising
	// the degraded-store path.
	FailReads bool
}

// NewMemory constructs an empty gateway.
func NewMemory() *Memory {
	return &Memory{
		bookings:  make(map[uuid.UUID]domain.Booking),
		locations: make(map[uuid.UUID]domain.Location),
		trips:     make(map[uuid.UUID]domain.Trip),
		fixes:     make(map[uuid.UUID][]domain.LiveFix),
		users:     make(map[string]domain.User),
	}
}

// PutBooking seeds or replaces a booking.
func (m *Memory) PutBooking(b domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
}

// PutLocation seeds the pickup/dropoff pair for a booking.
func (m *Memory) PutLocation(l domain.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.BookingID] = l
}

// PutTrip seeds the trip record for a booking.
func (m *Memory) PutTrip(t domain.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.BookingID] = t
}

// PutDriverFix appends a durable driver location row.
func (m *Memory) PutDriverFix(driverID uuid.UUID, fix domain.LiveFix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixes[driverID] = append(m.fixes[driverID], fix)
}

// PutUser seeds a customer account.
func (m *Memory) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(u.Email)] = u
}

// BookingByID retrieves a booking.
func (m *Memory) BookingByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return domain.Booking{}, domain.ErrUnavailable
	}
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

// LocationByBookingID retrieves the pickup/dropoff pair.
func (m *Memory) LocationByBookingID(_ context.Context, id uuid.UUID) (domain.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return domain.Location{}, domain.ErrUnavailable
	}
	l, ok := m.locations[id]
	if !ok {
		return domain.Location{}, domain.ErrNotFound
	}
	return l, nil
}

// TripByBookingID retrieves the trip, or nil if none exists yet.
func (m *Memory) TripByBookingID(_ context.Context, id uuid.UUID) (*domain.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, domain.ErrUnavailable
	}
	t, ok := m.trips[id]
	if !ok {
		return nil, nil
	}
	trip := t
	return &trip, nil
}

// LatestDriverFix returns the most recent durable fix for a driver, or nil.
func (m *Memory) LatestDriverFix(_ context.Context, driverID uuid.UUID) (*domain.LiveFix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return nil, domain.ErrUnavailable
	}
	rows := m.fixes[driverID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[0]
	for _, fix := range rows[1:] {
		if fix.RecordedAt.After(latest.RecordedAt) {
			latest = fix
		}
	}
	return &latest, nil
}

// UserByEmail looks up a customer account by normalized email.
func (m *Memory) UserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return domain.User{}, domain.ErrUnavailable
	}
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// LatestActiveBooking returns the customer's most recent non-terminal
// booking, optionally filtered by booking number.
func (m *Memory) LatestActiveBooking(_ context.Context, customerID uuid.UUID, bookingNumber string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return domain.Booking{}, domain.ErrUnavailable
	}
	var best *domain.Booking
	for _, b := range m.bookings {
		if b.CustomerID != customerID || b.Status.Terminal() {
			continue
		}
		if bookingNumber != "" && b.BookingNumber != bookingNumber {
			continue
		}
		candidate := b
		if best == nil || scheduledAfter(candidate, *best) {
			best = &candidate
		}
	}
	if best == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	return *best, nil
}

func scheduledAfter(a, b domain.Booking) bool {
	if a.ScheduledPickup == nil {
		return false
	}
	if b.ScheduledPickup == nil {
		return true
	}
	return a.ScheduledPickup.After(*b.ScheduledPickup)
}

// TouchCustomerSeen records when the customer was last watching the channel.
func (m *Memory) TouchCustomerSeen(_ context.Context, bookingID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	b.CustomerSeenAt = &at
	m.bookings[bookingID] = b
	return nil
}

// SetJourneyStatus reflects a driver-reported stage into the booking record.
func (m *Memory) SetJourneyStatus(_ context.Context, bookingID uuid.UUID, status domain.JourneyStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	b.JourneyStatus = status
	b.JourneyUpdatedAt = &at
	m.bookings[bookingID] = b
	return nil
}
