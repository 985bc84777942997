//go:build !gocv

package capture

import (
	"context"
	"errors"
)

// ErrOpenCVUnavailable is returned when the binary was built without OpenCV.
var ErrOpenCVUnavailable = errors.New("OpenCV capture not available: rebuild with -tags gocv")

// OpenCVDevice is a stub used when building without the gocv tag. Open
// always fails, so a Source using it keeps retrying and logging the reason.
type OpenCVDevice struct {
	source string
}

func NewOpenCVDevice(source string) *OpenCVDevice {
	return &OpenCVDevice{source: source}
}

func (d *OpenCVDevice) Open(ctx context.Context) error { return ErrOpenCVUnavailable }
func (d *OpenCVDevice) Read() (Frame, error)           { return Frame{}, ErrOpenCVUnavailable }
func (d *OpenCVDevice) Close() error                   { return nil }
