package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the dispatch surface. Public endpoints map
// ErrUnauthorized to a single generic message regardless of the underlying
// cause so that token probing learns nothing.
var (
	ErrUnauthorized = errors.New("invalid or expired dispatch link")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("booking store unavailable")
)

type BookingStatus string

const (
	BookingPending        BookingStatus = "PENDING"
	BookingConfirmed      BookingStatus = "CONFIRMED"
	BookingDriverAssigned BookingStatus = "DRIVER_ASSIGNED"
	BookingInProgress     BookingStatus = "IN_PROGRESS"
	BookingCompleted      BookingStatus = "COMPLETED"
	BookingCancelled      BookingStatus = "CANCELLED"
)

// Terminal reports whether the booking can no longer be tracked live.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// JourneyStatus is the driver-reported stage of an in-progress trip.
type JourneyStatus string

const (
	JourneyDriverArrived    JourneyStatus = "DRIVER_ARRIVED"
	JourneyOnRoute          JourneyStatus = "ON_ROUTE"
	JourneyPassengerOnBoard JourneyStatus = "PASSENGER_ON_BOARD"
	JourneyDropoff          JourneyStatus = "DROPOFF"
	JourneyTripCompleted    JourneyStatus = "TRIP_COMPLETED"
)

var journeyRank = map[JourneyStatus]int{
	JourneyDriverArrived:    1,
	JourneyOnRoute:          2,
	JourneyPassengerOnBoard: 3,
	JourneyDropoff:          4,
	JourneyTripCompleted:    5,
}

// Known reports whether the value is one of the enumerated stages.
func (s JourneyStatus) Known() bool {
	_, ok := journeyRank[s]
	return ok
}

// ShowsDropoff reports whether dropoff details and the route may be shown
// to link holders. The gate is closed only while a reported stage precedes
// PASSENGER_ON_BOARD; an unset status (link shared before the driver starts
// reporting) leaves the booked route visible.
func (s JourneyStatus) ShowsDropoff() bool {
	rank, ok := journeyRank[s]
	if !ok {
		return true
	}
	return rank >= journeyRank[JourneyPassengerOnBoard]
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Booking is the dispatch core's read view of a scheduled transport job.
// The booking system of record owns the full entity.
type Booking struct {
	ID               uuid.UUID
	BookingNumber    string
	Status           BookingStatus
	CustomerID       uuid.UUID
	CustomerEmail    string
	DriverID         *uuid.UUID
	ScheduledPickup  *time.Time
	EstimatedDurS    *int64
	EstimatedDistM   *int64
	JourneyStatus    JourneyStatus
	JourneyUpdatedAt *time.Time
	CustomerSeenAt   *time.Time
}

// Location carries the pickup/dropoff pair for one booking. Coordinates are
// optional because bookings may be created from free-text addresses.
type Location struct {
	BookingID      uuid.UUID
	PickupAddress  string
	PickupLat      *float64
	PickupLon      *float64
	DropoffAddress string
	DropoffLat     *float64
	DropoffLon     *float64
}

type Trip struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	Status      string
	DriverID    *uuid.UUID
	StartedAt   *time.Time
	CompletedAt *time.Time
	Route       []GeoPoint
}

// LiveFix is a single location reading. Optional fields stay pointers so a
// missing reading is distinguishable from zero.
type LiveFix struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	HeadingDeg *float64  `json:"headingDeg,omitempty"`
	SpeedMps   *float64  `json:"speedMps,omitempty"`
	AccuracyM  *float64  `json:"accuracyM,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

type User struct {
	ID    uuid.UUID
	Email string
}

// SessionKind tags which side of the channel a socket speaks for.
type SessionKind string

const (
	KindCustomer SessionKind = "customer"
	KindDriver   SessionKind = "driver"
)

// Valid reports whether the client-declared kind is one we admit.
func (k SessionKind) Valid() bool {
	return k == KindCustomer || k == KindDriver
}

// Session is derived at handshake time and lives exactly as long as the
// connection that produced it.
type Session struct {
	BookingID uuid.UUID
	Kind      SessionKind
}

// TokenStore maps opaque dispatch tokens to booking IDs under a strict TTL.
// Expiry is owned by the backing store; there is no application-side grace.
type TokenStore interface {
	Put(ctx context.Context, token string, bookingID uuid.UUID, ttl time.Duration) error
	Get(ctx context.Context, token string) (uuid.UUID, bool, error)
}

// FixCache holds short-lived fallback location fixes keyed by a
// caller-scoped string such as "booking:{id}" or "driver:{id}".
type FixCache interface {
	Put(ctx context.Context, key string, fix LiveFix, ttl time.Duration) error
	Get(ctx context.Context, key string) (LiveFix, bool, error)
}

// Gateway is the read contract over the surrounding booking system's store.
// TouchCustomerSeen and SetJourneyStatus are the two delegated writes the
// dispatch core is allowed to trigger.
type Gateway interface {
	BookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	LocationByBookingID(ctx context.Context, id uuid.UUID) (Location, error)
	TripByBookingID(ctx context.Context, id uuid.UUID) (*Trip, error)
	LatestDriverFix(ctx context.Context, driverID uuid.UUID) (*LiveFix, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	LatestActiveBooking(ctx context.Context, customerID uuid.UUID, bookingNumber string) (Booking, error)
	TouchCustomerSeen(ctx context.Context, bookingID uuid.UUID, at time.Time) error
	SetJourneyStatus(ctx context.Context, bookingID uuid.UUID, status JourneyStatus, at time.Time) error
}

// Event is a dispatch-side occurrence relayed to the surrounding platform.
type Event struct {
	Subject   string
	BookingID uuid.UUID
	Type      string
	Payload   map[string]any
	CreatedAt time.Time
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EmailSender delivers the share-link notification. Implementations are
// fire-and-forget; delivery failure never fails issuance.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
