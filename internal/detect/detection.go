// Package detect defines the boundary to the external object detector and
// tracker, plus the filter that selects the detections presence tracking
// cares about.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/geom"
)

// ErrNoTrackID marks a detection the tracker did not assign an identity to.
var ErrNoTrackID = errors.New("detection has no track id")

// ErrInvalidBBox is geom.ErrInvalidBBox, re-exported for callers that only
// import this package.
var ErrInvalidBBox = geom.ErrInvalidBBox

// Detection is one tracked object in one frame.
type Detection struct {
	// TrackID is nil when the tracker has not (yet) assigned an identity.
	TrackID    *int64    `json:"track_id,omitempty"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       geom.BBox `json:"bbox"`
}

// Center returns the anchor point used for zone membership.
func (d Detection) Center() geom.Point {
	return d.BBox.Center()
}

// Validate reports why the detection cannot be tracked, if it cannot.
func (d Detection) Validate() error {
	if d.TrackID == nil {
		return ErrNoTrackID
	}
	if err := d.BBox.Validate(); err != nil {
		return fmt.Errorf("track %d: %w", *d.TrackID, err)
	}
	return nil
}

// ID returns a pointer to v, for building detections in code.
func ID(v int64) *int64 { return &v }

// Detector turns a frame into tracked detections. Implementations must keep
// track ids stable for the same object across consecutive frames.
type Detector interface {
	Detect(ctx context.Context, frame capture.Frame) ([]Detection, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, frame capture.Frame) ([]Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	return f(ctx, frame)
}
