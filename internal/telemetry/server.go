package telemetry

import (
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/livedispatch/internal/dispatch/domain"
)

// Server ingests the fleet position feed and keeps the per-driver fix cache
// warm so snapshot reads have a recent fallback even when the durable store
// lags behind.
type Server struct {
	fixes  domain.FixCache
	clock  domain.Clock
	logger *zap.Logger
	ttl    time.Duration
}

// NewServer constructs a telemetry server.
func NewServer(fixes domain.FixCache, clock domain.Clock, logger *zap.Logger, ttl time.Duration) *Server {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Server{fixes: fixes, clock: clock, logger: logger, ttl: ttl}
}

// StreamFix ingests driver fixes. Malformed driver ids are skipped rather
// than failing the whole stream.
func (s *Server) StreamFix(stream Telemetry_StreamFixServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		driverID, err := uuid.Parse(msg.DriverId)
		if err != nil {
			continue
		}
		recordedAt := s.clock.Now()
		if msg.Ts > 0 {
			recordedAt = time.UnixMilli(msg.Ts).UTC()
		}
		fix := domain.LiveFix{
			Lat:        msg.Lat,
			Lon:        msg.Lon,
			RecordedAt: recordedAt,
		}
		if msg.HeadingDeg != 0 {
			heading := msg.HeadingDeg
			fix.HeadingDeg = &heading
		}
		if msg.SpeedMps != 0 {
			speed := msg.SpeedMps
			fix.SpeedMps = &speed
		}
		if msg.AccuracyM != 0 {
			accuracy := msg.AccuracyM
			fix.AccuracyM = &accuracy
		}
		if err := s.fixes.Put(stream.Context(), "driver:"+driverID.String(), fix, s.ttl); err != nil {
			s.logger.Warn("driver fix store failed", zap.Error(err), zap.String("driver_id", driverID.String()))
		}
	}
}
