package detect

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/banshee-data/presence.report/internal/capture"
)

const (
	maxMsgSize            = 50 * 1024 * 1024
	DefaultRequestTimeout = 5 * time.Second
)

// GRPCDetector calls an external detector/tracker service for every frame.
type GRPCDetector struct {
	conn    *grpc.ClientConn
	addr    string
	model   string
	timeout time.Duration
}

// GRPCOption configures a GRPCDetector.
type GRPCOption func(*grpcSettings)

type grpcSettings struct {
	model   string
	timeout time.Duration
	dial    []grpc.DialOption
}

// WithModel names the model the service should run.
func WithModel(name string) GRPCOption {
	return func(s *grpcSettings) { s.model = name }
}

// WithRequestTimeout bounds each Track call.
func WithRequestTimeout(d time.Duration) GRPCOption {
	return func(s *grpcSettings) { s.timeout = d }
}

// WithDialOptions appends raw dial options, e.g. a custom dialer in tests.
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(s *grpcSettings) { s.dial = append(s.dial, opts...) }
}

// NewGRPCDetector creates a client for addr. The connection is established
// lazily on the first call.
func NewGRPCDetector(addr string, opts ...GRPCOption) (*GRPCDetector, error) {
	settings := grpcSettings{timeout: DefaultRequestTimeout}
	for _, o := range opts {
		o(&settings)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
			grpc.ForceCodec(wireCodec{}),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}, settings.dial...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("detector client for %s: %w", addr, err)
	}
	return &GRPCDetector{conn: conn, addr: addr, model: settings.model, timeout: settings.timeout}, nil
}

// Detect sends frame to the service and returns its detections unfiltered.
func (g *GRPCDetector) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := &TrackRequest{
		Seq:        frame.Seq,
		Width:      frame.Width,
		Height:     frame.Height,
		Format:     frame.Format,
		CapturedAt: frame.CapturedAt.UnixNano(),
		Data:       frame.Data,
		Model:      g.model,
	}
	resp := new(TrackResponse)
	if err := g.conn.Invoke(ctx, TrackMethod, req, resp); err != nil {
		return nil, fmt.Errorf("track frame %d via %s: %w", frame.Seq, g.addr, err)
	}
	return resp.Detections, nil
}

// Close releases the connection.
func (g *GRPCDetector) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
