package capture

import "context"

// Device is a video input such as a USB camera or an RTSP stream.
//
// Devices are used from a single goroutine. Read may block for up to one
// frame interval.
type Device interface {
	Open(ctx context.Context) error
	Read() (Frame, error)
	Close() error
}
