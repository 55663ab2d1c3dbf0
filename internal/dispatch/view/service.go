package view

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/dispatch/domain"
	"github.com/example/livedispatch/internal/dispatch/session"
)

// Service composes the two token-gated read projections over the booking
// store: the full summary and the lightweight incremental update.
type Service struct {
	resolver *session.Resolver
	gw       domain.Gateway
	fixes    domain.FixCache
	clock    domain.Clock
}

// New constructs the service.
func New(resolver *session.Resolver, gw domain.Gateway, fixes domain.FixCache, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{resolver: resolver, gw: gw, fixes: fixes, clock: clock}
}

// PointView is an address with optional coordinates. All fields are nil when
// the dropoff gate is closed.
type PointView struct {
	Address *string  `json:"address"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

type LocationsView struct {
	Pickup  PointView `json:"pickup"`
	Dropoff PointView `json:"dropoff"`
}

type BookingView struct {
	ID              uuid.UUID            `json:"id"`
	BookingNumber   string               `json:"bookingNumber,omitempty"`
	Status          domain.BookingStatus `json:"status"`
	JourneyStatus   domain.JourneyStatus `json:"journeyStatus,omitempty"`
	ScheduledPickup *time.Time           `json:"scheduledPickupAt"`
}

type TripView struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// FixView mirrors domain.LiveFix with optional decimals rounded to one
// place, the normalization applied on the durable read path.
type FixView struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	HeadingDeg *float64  `json:"headingDeg,omitempty"`
	SpeedMps   *float64  `json:"speedMps,omitempty"`
	AccuracyM  *float64  `json:"accuracyM,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

type DriverView struct {
	ID  uuid.UUID `json:"id"`
	Fix *FixView  `json:"fix"`
}

type TelemetryView struct {
	DistanceKm  *float64 `json:"distanceKm"`
	DurationMin *int64   `json:"durationMin"`
}

type Summary struct {
	OK        bool              `json:"ok"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Booking   BookingView       `json:"booking"`
	Locations LocationsView     `json:"locations"`
	Trip      *TripView         `json:"trip"`
	Route     []domain.GeoPoint `json:"route"`
	Driver    *DriverView       `json:"driver"`
}

type Updates struct {
	OK        bool          `json:"ok"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Booking   BookingView   `json:"booking"`
	Trip      *TripView     `json:"trip"`
	ETA       *time.Time    `json:"eta"`
	Driver    *DriverView   `json:"driver"`
	Telemetry TelemetryView `json:"telemetry"`
}

// GetSummary resolves the token and assembles the full snapshot. A token
// pointing at a deleted booking fails exactly like an invalid token.
func (s *Service) GetSummary(ctx context.Context, token string) (Summary, error) {
	bookingID, err := s.resolver.ResolveBooking(ctx, token)
	if err != nil {
		return Summary{}, err
	}
	booking, location, err := s.loadCore(ctx, bookingID)
	if err != nil {
		return Summary{}, err
	}
	trip, err := s.gw.TripByBookingID(ctx, bookingID)
	if err != nil {
		return Summary{}, err
	}

	show := booking.JourneyStatus.ShowsDropoff()

	driver, err := s.driverView(ctx, booking, trip)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		OK:        true,
		UpdatedAt: s.clock.Now(),
		Booking:   bookingView(booking),
		Locations: LocationsView{
			Pickup:  pointView(location.PickupAddress, location.PickupLat, location.PickupLon),
			Dropoff: dropoffView(location, show),
		},
		Trip:   tripView(trip),
		Route:  route(location, trip, show),
		Driver: driver,
	}, nil
}

// GetUpdates resolves the token and assembles the cheap delta projection.
func (s *Service) GetUpdates(ctx context.Context, token string) (Updates, error) {
	bookingID, err := s.resolver.ResolveBooking(ctx, token)
	if err != nil {
		return Updates{}, err
	}
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return Updates{}, err
	}
	trip, err := s.gw.TripByBookingID(ctx, bookingID)
	if err != nil {
		return Updates{}, err
	}

	driver, err := s.driverView(ctx, booking, trip)
	if err != nil {
		return Updates{}, err
	}

	return Updates{
		OK:        true,
		UpdatedAt: s.clock.Now(),
		Booking:   bookingView(booking),
		Trip:      tripView(trip),
		ETA:       eta(booking, trip),
		Driver:    driver,
		Telemetry: telemetry(booking),
	}, nil
}

func (s *Service) loadBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	booking, err := s.gw.BookingByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Booking{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

func (s *Service) loadCore(ctx context.Context, id uuid.UUID) (domain.Booking, domain.Location, error) {
	booking, err := s.loadBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, domain.Location{}, err
	}
	location, err := s.gw.LocationByBookingID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Booking{}, domain.Location{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.Booking{}, domain.Location{}, err
	}
	return booking, location, nil
}

// driverView picks the trip's driver over the booking's assignment and
// resolves the freshest fix: durable row, then the telemetry feed cache,
// then the socket fallback for the booking.
func (s *Service) driverView(ctx context.Context, booking domain.Booking, trip *domain.Trip) (*DriverView, error) {
	driverID := booking.DriverID
	if trip != nil && trip.DriverID != nil {
		driverID = trip.DriverID
	}
	if driverID == nil {
		return nil, nil
	}

	fix, err := s.gw.LatestDriverFix(ctx, *driverID)
	if err != nil {
		return nil, err
	}
	if fix == nil && s.fixes != nil {
		if cached, ok, err := s.fixes.Get(ctx, "driver:"+driverID.String()); err == nil && ok {
			fix = &cached
		}
		if fix == nil {
			if cached, ok, err := s.fixes.Get(ctx, "booking:"+booking.ID.String()); err == nil && ok {
				fix = &cached
			}
		}
	}
	return &DriverView{ID: *driverID, Fix: fixView(fix)}, nil
}

func bookingView(b domain.Booking) BookingView {
	return BookingView{
		ID:              b.ID,
		BookingNumber:   b.BookingNumber,
		Status:          b.Status,
		JourneyStatus:   b.JourneyStatus,
		ScheduledPickup: b.ScheduledPickup,
	}
}

func tripView(t *domain.Trip) *TripView {
	if t == nil {
		return nil
	}
	return &TripView{ID: t.ID, Status: t.Status, StartedAt: t.StartedAt, CompletedAt: t.CompletedAt}
}

func pointView(address string, lat, lon *float64) PointView {
	return PointView{Address: &address, Lat: lat, Lon: lon}
}

func dropoffView(l domain.Location, show bool) PointView {
	if !show {
		return PointView{}
	}
	return pointView(l.DropoffAddress, l.DropoffLat, l.DropoffLon)
}

// route prefers the trip's recorded polyline, falling back to the booked
// two-point line. Nothing is returned while the dropoff gate is closed.
func route(l domain.Location, trip *domain.Trip, show bool) []domain.GeoPoint {
	if !show {
		return nil
	}
	if trip != nil && len(trip.Route) > 0 {
		return trip.Route
	}
	if l.PickupLat == nil || l.PickupLon == nil || l.DropoffLat == nil || l.DropoffLon == nil {
		return nil
	}
	return []domain.GeoPoint{
		{Lat: *l.PickupLat, Lon: *l.PickupLon},
		{Lat: *l.DropoffLat, Lon: *l.DropoffLon},
	}
}

// eta prefers trip start plus estimated duration; a not-yet-started booking
// substitutes its scheduled pickup time.
func eta(b domain.Booking, trip *domain.Trip) *time.Time {
	if trip != nil && trip.StartedAt != nil && b.EstimatedDurS != nil {
		t := trip.StartedAt.Add(time.Duration(*b.EstimatedDurS) * time.Second)
		return &t
	}
	if b.ScheduledPickup != nil {
		t := *b.ScheduledPickup
		return &t
	}
	return nil
}

func telemetry(b domain.Booking) TelemetryView {
	var view TelemetryView
	if b.EstimatedDistM != nil {
		km := round1(float64(*b.EstimatedDistM) / 1000)
		view.DistanceKm = &km
	}
	if b.EstimatedDurS != nil {
		min := int64(math.Round(float64(*b.EstimatedDurS) / 60))
		view.DurationMin = &min
	}
	return view
}

func fixView(fix *domain.LiveFix) *FixView {
	if fix == nil {
		return nil
	}
	return &FixView{
		Lat:        fix.Lat,
		Lon:        fix.Lon,
		HeadingDeg: round1p(fix.HeadingDeg),
		SpeedMps:   round1p(fix.SpeedMps),
		AccuracyM:  round1p(fix.AccuracyM),
		RecordedAt: fix.RecordedAt,
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round1p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round1(*v)
	return &r
}
