package telemetry

import "google.golang.org/grpc"

// DriverFix is a streaming position report from the driver fleet feed.
type DriverFix struct {
	DriverId   string
	Lat        float64
	Lon        float64
	HeadingDeg float64
	SpeedMps   float64
	AccuracyM  float64
	Ts         int64
}

// Ack is returned when the stream closes.
type Ack struct{}

// TelemetryServer defines the gRPC contract.
type TelemetryServer interface {
	StreamFix(Telemetry_StreamFixServer) error
}

// RegisterTelemetryServer registers the service implementation.
func RegisterTelemetryServer(s *grpc.Server, srv TelemetryServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "dispatch.Telemetry",
		HandlerType: (*TelemetryServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamFix",
			Handler:       _Telemetry_StreamFix_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Telemetry_StreamFixServer defines the bidi stream interface.
type Telemetry_StreamFixServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*DriverFix, error)
}

func _Telemetry_StreamFix_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TelemetryServer).StreamFix(&telemetryStreamServer{ServerStream: stream})
}

type telemetryStreamServer struct {
	grpc.ServerStream
}

func (s *telemetryStreamServer) SendAndClose(*Ack) error { return nil }

func (s *telemetryStreamServer) Recv() (*DriverFix, error) {
	msg := new(DriverFix)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
