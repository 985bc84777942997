// Package geom holds the pixel-space primitives shared by detections and
// zones.
package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidBBox is returned by BBox.Validate for degenerate or non-finite boxes.
var ErrInvalidBBox = errors.New("invalid bounding box")

// Point is a pixel coordinate. Image space: X grows right, Y grows down.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// BBox is an axis-aligned box given by its top-left (X1,Y1) and
// bottom-right (X2,Y2) corners.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Validate rejects boxes with NaN/Inf coordinates or inverted corners.
// Zero-area boxes are accepted; some trackers emit them for point targets.
func (b BBox) Validate() error {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %v", ErrInvalidBBox, b)
		}
	}
	if b.X2 < b.X1 || b.Y2 < b.Y1 {
		return fmt.Errorf("%w: inverted corners in %v", ErrInvalidBBox, b)
	}
	return nil
}

// Center returns the integer-truncated midpoint of the box, matching how
// detector pixel boxes are reduced to a single anchor point.
func (b BBox) Center() Point {
	return Point{
		X: math.Floor((math.Trunc(b.X1) + math.Trunc(b.X2)) / 2),
		Y: math.Floor((math.Trunc(b.Y1) + math.Trunc(b.Y2)) / 2),
	}
}

// Width returns X2-X1.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }
