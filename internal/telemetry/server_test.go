package telemetry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/livedispatch/internal/dispatch/token"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeStream struct {
	grpc.ServerStream
	fixes  []*DriverFix
	closed bool
}

func (s *fakeStream) Context() context.Context { return context.Background() }

func (s *fakeStream) SendAndClose(*Ack) error {
	s.closed = true
	return nil
}

func (s *fakeStream) Recv() (*DriverFix, error) {
	if len(s.fixes) == 0 {
		return nil, io.EOF
	}
	fix := s.fixes[0]
	s.fixes = s.fixes[1:]
	return fix, nil
}

func TestStreamFixStoresDriverFixes(t *testing.T) {
	clock := fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	fixes := token.NewMemoryFixCache(clock)
	srv := NewServer(fixes, clock, zap.NewNop(), time.Minute)

	driverID := uuid.New()
	stream := &fakeStream{fixes: []*DriverFix{
		{DriverId: "not-a-uuid", Lat: 1, Lon: 2},
		{DriverId: driverID.String(), Lat: 51.5, Lon: -0.12, SpeedMps: 9.5, Ts: clock.t.Add(-time.Second).UnixMilli()},
	}}

	require.NoError(t, srv.StreamFix(stream))
	require.True(t, stream.closed)

	fix, ok, err := fixes.Get(context.Background(), "driver:"+driverID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 51.5, fix.Lat)
	require.Equal(t, 9.5, *fix.SpeedMps)
	require.Nil(t, fix.HeadingDeg)
	require.Equal(t, clock.t.Add(-time.Second), fix.RecordedAt)
}

func TestStreamFixDefaultsRecordedAt(t *testing.T) {
	clock := fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	fixes := token.NewMemoryFixCache(clock)
	srv := NewServer(fixes, clock, zap.NewNop(), time.Minute)

	driverID := uuid.New()
	stream := &fakeStream{fixes: []*DriverFix{{DriverId: driverID.String(), Lat: 1, Lon: 2}}}
	require.NoError(t, srv.StreamFix(stream))

	fix, ok, err := fixes.Get(context.Background(), "driver:"+driverID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, clock.t, fix.RecordedAt)
}
