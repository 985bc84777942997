package detect

import (
	"context"

	"google.golang.org/grpc"
)

// TrackMethod is the full gRPC method name of the tracking call.
const TrackMethod = "/presence.detector.v1.Detector/Track"

// TrackRequest carries one frame to the detector service. Wire layout is
// defined in proto/detector.proto.
type TrackRequest struct {
	Seq        uint64
	Width      int
	Height     int
	Format     string
	CapturedAt int64 // unix nanoseconds
	Data       []byte
	Model      string
}

// TrackResponse lists every detection in the frame, unfiltered.
type TrackResponse struct {
	Detections []Detection
}

// DetectorServer is implemented by in-process detector services, such as
// test fakes.
type DetectorServer interface {
	Track(ctx context.Context, req *TrackRequest) (*TrackResponse, error)
}

func trackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TrackRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Track(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TrackMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DetectorServer).Track(ctx, req.(*TrackRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var detectorServiceDesc = grpc.ServiceDesc{
	ServiceName: "presence.detector.v1.Detector",
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Track", Handler: trackHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "detector.proto",
}

// ServerCodec must be passed to grpc.NewServer for servers that register a
// DetectorServer.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(wireCodec{})
}

// RegisterDetectorServer registers srv on s.
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&detectorServiceDesc, srv)
}
