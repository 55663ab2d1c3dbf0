package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Postgres reads the booking system's relational store. The dispatch core
// never owns these tables; every write here is a delegated touch the
// surrounding system sanctioned.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an opened database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func wrapReadErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, op, err)
}

// BookingByID retrieves a booking row.
func (p *Postgres) BookingByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, booking_number, status, customer_id, customer_email,
		       driver_id, scheduled_pickup_at, estimated_duration_s,
		       estimated_distance_m, journey_status, journey_updated_at,
		       customer_seen_at
		FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b             domain.Booking
		driverID      sql.NullString
		journeyStatus sql.NullString
	)
	err := row.Scan(&b.ID, &b.BookingNumber, &b.Status, &b.CustomerID, &b.CustomerEmail,
		&driverID, &b.ScheduledPickup, &b.EstimatedDurS,
		&b.EstimatedDistM, &journeyStatus, &b.JourneyUpdatedAt,
		&b.CustomerSeenAt)
	if err != nil {
		return domain.Booking{}, wrapReadErr("select booking", err)
	}
	if driverID.Valid {
		id, err := uuid.Parse(driverID.String)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("parse driver id: %w", err)
		}
		b.DriverID = &id
	}
	if journeyStatus.Valid {
		b.JourneyStatus = domain.JourneyStatus(journeyStatus.String)
	}
	return b, nil
}

// LocationByBookingID retrieves the pickup/dropoff pair.
func (p *Postgres) LocationByBookingID(ctx context.Context, id uuid.UUID) (domain.Location, error) {
	var l domain.Location
	err := p.db.QueryRowContext(ctx, `
		SELECT booking_id, pickup_address, pickup_lat, pickup_lon,
		       dropoff_address, dropoff_lat, dropoff_lon
		FROM booking_locations WHERE booking_id = $1`, id).
		Scan(&l.BookingID, &l.PickupAddress, &l.PickupLat, &l.PickupLon,
			&l.DropoffAddress, &l.DropoffLat, &l.DropoffLon)
	if err != nil {
		return domain.Location{}, wrapReadErr("select location", err)
	}
	return l, nil
}

// TripByBookingID retrieves the trip record, or nil if none exists yet.
func (p *Postgres) TripByBookingID(ctx context.Context, id uuid.UUID) (*domain.Trip, error) {
	var (
		t        domain.Trip
		driverID sql.NullString
		route    sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, booking_id, status, driver_id, started_at, completed_at, route_polyline
		FROM trips WHERE booking_id = $1
		ORDER BY created_at DESC LIMIT 1`, id).
		Scan(&t.ID, &t.BookingID, &t.Status, &driverID, &t.StartedAt, &t.CompletedAt, &route)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapReadErr("select trip", err)
	}
	if driverID.Valid {
		parsed, err := uuid.Parse(driverID.String)
		if err != nil {
			return nil, fmt.Errorf("parse trip driver id: %w", err)
		}
		t.DriverID = &parsed
	}
	if route.Valid {
		t.Route = parsePolyline(route.String)
	}
	return &t, nil
}

// parsePolyline decodes the booking system's "lat,lon lat,lon ..." route
// column into ordered points. Malformed pairs are skipped.
func parsePolyline(raw string) []domain.GeoPoint {
	fields := strings.Fields(raw)
	points := make([]domain.GeoPoint, 0, len(fields))
	for _, field := range fields {
		var p domain.GeoPoint
		if _, err := fmt.Sscanf(field, "%f,%f", &p.Lat, &p.Lon); err != nil {
			continue
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil
	}
	return points
}

// LatestDriverFix returns the most recent durable location row for a driver.
func (p *Postgres) LatestDriverFix(ctx context.Context, driverID uuid.UUID) (*domain.LiveFix, error) {
	var fix domain.LiveFix
	err := p.db.QueryRowContext(ctx, `
		SELECT lat, lon, heading_deg, speed_mps, accuracy_m, recorded_at
		FROM driver_locations WHERE driver_id = $1
		ORDER BY recorded_at DESC LIMIT 1`, driverID).
		Scan(&fix.Lat, &fix.Lon, &fix.HeadingDeg, &fix.SpeedMps, &fix.AccuracyM, &fix.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapReadErr("select driver fix", err)
	}
	return &fix, nil
}

// UserByEmail looks up a customer account; the caller normalizes case.
func (p *Postgres) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, email FROM users WHERE lower(email) = $1`, strings.ToLower(email)).
		Scan(&u.ID, &u.Email)
	if err != nil {
		return domain.User{}, wrapReadErr("select user", err)
	}
	return u, nil
}

// LatestActiveBooking returns the customer's most recent non-terminal
// booking, optionally filtered by booking number.
func (p *Postgres) LatestActiveBooking(ctx context.Context, customerID uuid.UUID, bookingNumber string) (domain.Booking, error) {
	query := `
		SELECT id, booking_number, status, customer_id, customer_email,
		       driver_id, scheduled_pickup_at, estimated_duration_s,
		       estimated_distance_m, journey_status, journey_updated_at,
		       customer_seen_at
		FROM bookings
		WHERE customer_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`
	args := []any{customerID}
	if bookingNumber != "" {
		query += ` AND booking_number = $2`
		args = append(args, bookingNumber)
	}
	query += ` ORDER BY scheduled_pickup_at DESC NULLS LAST LIMIT 1`
	return scanBooking(p.db.QueryRowContext(ctx, query, args...))
}

// TouchCustomerSeen records when the customer was last watching the channel.
func (p *Postgres) TouchCustomerSeen(ctx context.Context, bookingID uuid.UUID, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET customer_seen_at = $2 WHERE id = $1`, bookingID, at)
	if err != nil {
		return fmt.Errorf("touch customer seen: %w", err)
	}
	return nil
}

// SetJourneyStatus reflects a driver-reported stage into the booking record.
func (p *Postgres) SetJourneyStatus(ctx context.Context, bookingID uuid.UUID, status domain.JourneyStatus, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET journey_status = $2, journey_updated_at = $3 WHERE id = $1`,
		bookingID, string(status), at)
	if err != nil {
		return fmt.Errorf("set journey status: %w", err)
	}
	return nil
}
