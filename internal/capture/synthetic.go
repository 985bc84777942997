package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// SyntheticDevice produces blank frames at a fixed rate. It stands in for a
// camera in development and tests.
type SyntheticDevice struct {
	Width  int
	Height int
	FPS    float64
	Clock  timeutil.Clock

	mu   sync.Mutex
	ctx  context.Context
	open bool
}

// NewSyntheticDevice returns a 640x480 gray device at the given rate.
func NewSyntheticDevice(fps float64) *SyntheticDevice {
	return &SyntheticDevice{Width: 640, Height: 480, FPS: fps}
}

func (d *SyntheticDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Width <= 0 || d.Height <= 0 {
		return errors.New("synthetic device: invalid size")
	}
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	d.ctx = ctx
	d.open = true
	return nil
}

func (d *SyntheticDevice) Read() (Frame, error) {
	d.mu.Lock()
	ctx, open, clock := d.ctx, d.open, d.Clock
	d.mu.Unlock()
	if !open {
		return Frame{}, errors.New("synthetic device: not open")
	}

	if d.FPS > 0 {
		interval := time.Duration(float64(time.Second) / d.FPS)
		if err := clock.Sleep(ctx, interval); err != nil {
			return Frame{}, err
		}
	}

	return Frame{
		Data:       make([]byte, d.Width*d.Height),
		Width:      d.Width,
		Height:     d.Height,
		Format:     FormatGray8,
		CapturedAt: clock.Now(),
	}, nil
}

func (d *SyntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
