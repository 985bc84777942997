// Package capture acquires frames from a video device and keeps doing so
// across transient failures.
package capture

import (
	"errors"
	"time"
)

// Pixel formats reported in Frame.Format.
const (
	FormatBGR24 = "bgr24"
	FormatGray8 = "gray8"
)

// ErrReadFailed is returned by devices when no frame could be decoded.
var ErrReadFailed = errors.New("frame read failed")

// Frame is one decoded image. It is immutable once emitted; ownership
// passes to whoever receives it.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format string

	// Seq increases by one for every frame a Source emits.
	Seq uint64
	// CapturedAt carries a monotonic reading when stamped by a real clock.
	CapturedAt time.Time
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}
