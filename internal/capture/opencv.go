//go:build gocv

package capture

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// OpenCVDevice reads from a camera index or any URL/file OpenCV can decode.
type OpenCVDevice struct {
	source string

	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewOpenCVDevice returns a device for source. A numeric source selects a
// local camera by index.
func NewOpenCVDevice(source string) *OpenCVDevice {
	return &OpenCVDevice{source: source}
}

func (d *OpenCVDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		vc  *gocv.VideoCapture
		err error
	)
	if id, convErr := strconv.Atoi(d.source); convErr == nil {
		vc, err = gocv.VideoCaptureDevice(id)
	} else {
		vc, err = gocv.VideoCaptureFile(d.source)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", d.source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open %s: capture not opened", d.source)
	}

	d.cap = vc
	d.mat = gocv.NewMat()
	return nil
}

func (d *OpenCVDevice) Read() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return Frame{}, fmt.Errorf("read %s: device not open", d.source)
	}
	if ok := d.cap.Read(&d.mat); !ok || d.mat.Empty() {
		return Frame{}, ErrReadFailed
	}

	format := FormatBGR24
	if d.mat.Channels() == 1 {
		format = FormatGray8
	}
	return Frame{
		Data:   d.mat.ToBytes(),
		Width:  d.mat.Cols(),
		Height: d.mat.Rows(),
		Format: format,
	}, nil
}

func (d *OpenCVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil
	}
	d.mat.Close()
	err := d.cap.Close()
	d.cap = nil
	return err
}
