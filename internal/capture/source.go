package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Defaults for SourceConfig.
const (
	DefaultReconnectBackoff = 5 * time.Second
	DefaultReadRetryBackoff = 500 * time.Millisecond
	DefaultMaxReadFailures  = 20
)

// SourceConfig controls retry behaviour. Zero values take the defaults.
type SourceConfig struct {
	// ReconnectBackoff is the pause after a failed open, and before
	// reopening a device that keeps failing reads.
	ReconnectBackoff time.Duration
	// ReadRetryBackoff is the pause after a single failed read.
	ReadRetryBackoff time.Duration
	// MaxReadFailures consecutive read failures force a reconnect.
	MaxReadFailures int

	Clock timeutil.Clock
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.ReadRetryBackoff <= 0 {
		c.ReadRetryBackoff = DefaultReadRetryBackoff
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = DefaultMaxReadFailures
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// SourceStats is a snapshot of Source counters.
type SourceStats struct {
	FramesRead   uint64 `json:"frames_read"`
	ReadFailures uint64 `json:"read_failures"`
	OpenFailures uint64 `json:"open_failures"`
	Reconnects   uint64 `json:"reconnects"`
	Connected    bool   `json:"connected"`
}

// Source drives a Device, reopening it whenever it fails.
type Source struct {
	dev Device
	cfg SourceConfig
	seq uint64

	framesRead   atomic.Uint64
	readFailures atomic.Uint64
	openFailures atomic.Uint64
	reconnects   atomic.Uint64
	connected    atomic.Bool
}

// NewSource wraps dev.
func NewSource(dev Device, cfg SourceConfig) *Source {
	return &Source{dev: dev, cfg: cfg.withDefaults()}
}

// Run reads frames and passes each to emit until ctx is cancelled. Device
// failures are logged and retried forever; the only error returned is
// ctx.Err().
func (s *Source) Run(ctx context.Context, emit func(Frame)) error {
	defer s.disconnect()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !s.connected.Load() {
			if err := s.open(ctx); err != nil {
				s.openFailures.Add(1)
				opsf("open failed, retrying in %s: %v", s.cfg.ReconnectBackoff, err)
				if err := s.cfg.Clock.Sleep(ctx, s.cfg.ReconnectBackoff); err != nil {
					return err
				}
				continue
			}
			s.connected.Store(true)
			failures = 0
			diagf("device connected")
		}

		frame, err := s.read()
		if err != nil {
			failures++
			s.readFailures.Add(1)
			if failures >= s.cfg.MaxReadFailures {
				opsf("%d consecutive read failures, reconnecting in %s: %v", failures, s.cfg.ReconnectBackoff, err)
				s.disconnect()
				s.reconnects.Add(1)
				if err := s.cfg.Clock.Sleep(ctx, s.cfg.ReconnectBackoff); err != nil {
					return err
				}
				continue
			}
			diagf("read failed (%d/%d): %v", failures, s.cfg.MaxReadFailures, err)
			if err := s.cfg.Clock.Sleep(ctx, s.cfg.ReadRetryBackoff); err != nil {
				return err
			}
			continue
		}
		failures = 0

		s.seq++
		frame.Seq = s.seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = s.cfg.Clock.Now()
		}
		s.framesRead.Add(1)
		tracef("frame seq=%d %dx%d", frame.Seq, frame.Width, frame.Height)
		emit(frame)
	}
}

// Stats returns a snapshot of the source counters. Safe for concurrent use.
func (s *Source) Stats() SourceStats {
	return SourceStats{
		FramesRead:   s.framesRead.Load(),
		ReadFailures: s.readFailures.Load(),
		OpenFailures: s.openFailures.Load(),
		Reconnects:   s.reconnects.Load(),
		Connected:    s.connected.Load(),
	}
}

func (s *Source) open(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device open panicked: %v", r)
		}
	}()
	return s.dev.Open(ctx)
}

func (s *Source) read() (f Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device read panicked: %v", r)
		}
	}()
	f, err = s.dev.Read()
	if err == nil && f.Empty() {
		err = ErrReadFailed
	}
	return f, err
}

func (s *Source) disconnect() {
	if !s.connected.Swap(false) {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				opsf("device close panicked: %v", r)
			}
		}()
		if err := s.dev.Close(); err != nil && !errors.Is(err, context.Canceled) {
			opsf("device close: %v", err)
		}
	}()
	diagf("device disconnected")
}
