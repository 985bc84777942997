// Package zone provides the static zone lookup used to attribute a tracked
// subject to named polygonal regions of the frame.
//
// An Index is built once at startup and is immutable afterwards, so queries
// need no locking and may run from any goroutine.
package zone

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/presence.report/internal/geom"
)

// onEdgeEpsilon is the distance (pixels) within which a point is treated as
// lying on a polygon edge.
const onEdgeEpsilon = 1e-9

// ErrInvalidZone is wrapped by every zone definition error.
var ErrInvalidZone = errors.New("invalid zone")

// RGB is a display colour. It has no effect on membership.
type RGB [3]uint8

// DefaultColor is the colour used when a zone definition omits one.
var DefaultColor = RGB{0, 0, 255}

// Zone is a named polygonal region.
type Zone struct {
	Name    string       `json:"name"`
	Color   RGB          `json:"color"`
	Polygon []geom.Point `json:"polygon"`
}

// Contains reports whether p lies strictly inside or on the boundary of the
// zone's polygon.
func (z Zone) Contains(p geom.Point) bool {
	return pointInPolygon(p, z.Polygon)
}

// Index answers point-membership queries over a fixed, ordered zone set.
type Index struct {
	zones []Zone
}

// NewIndex validates the zone definitions and builds an Index. Zone order is
// preserved and determines the order of names returned by ZonesContaining.
func NewIndex(zones []Zone) (*Index, error) {
	seen := make(map[string]bool, len(zones))
	out := make([]Zone, 0, len(zones))
	for i, z := range zones {
		if z.Name == "" {
			return nil, fmt.Errorf("%w: zone %d has no name", ErrInvalidZone, i)
		}
		if seen[z.Name] {
			return nil, fmt.Errorf("%w: duplicate zone name %q", ErrInvalidZone, z.Name)
		}
		seen[z.Name] = true
		if len(z.Polygon) < 3 {
			return nil, fmt.Errorf("%w: zone %q needs at least 3 points, got %d", ErrInvalidZone, z.Name, len(z.Polygon))
		}
		for _, p := range z.Polygon {
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
				return nil, fmt.Errorf("%w: zone %q has non-finite vertex %v", ErrInvalidZone, z.Name, p)
			}
		}
		poly := make([]geom.Point, len(z.Polygon))
		copy(poly, z.Polygon)
		out = append(out, Zone{Name: z.Name, Color: z.Color, Polygon: poly})
	}
	return &Index{zones: out}, nil
}

// MustNewIndex is like NewIndex but panics on error. Intended for tests.
func MustNewIndex(zones []Zone) *Index {
	idx, err := NewIndex(zones)
	if err != nil {
		panic(err)
	}
	return idx
}

// ZonesContaining returns the names of every zone containing p, in index
// order. It returns nil when p is outside all zones.
func (idx *Index) ZonesContaining(p geom.Point) []string {
	if idx == nil {
		return nil
	}
	var names []string
	for _, z := range idx.zones {
		if z.Contains(p) {
			names = append(names, z.Name)
		}
	}
	return names
}

// Len returns the number of zones.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.zones)
}

// Zones returns a deep copy of the zone definitions.
func (idx *Index) Zones() []Zone {
	if idx == nil {
		return nil
	}
	out := make([]Zone, len(idx.zones))
	for i, z := range idx.zones {
		poly := make([]geom.Point, len(z.Polygon))
		copy(poly, z.Polygon)
		out[i] = Zone{Name: z.Name, Color: z.Color, Polygon: poly}
	}
	return out
}

// pointInPolygon is an inclusive even-odd test: boundary points count as
// inside. The polygon is implicitly closed.
func pointInPolygon(p geom.Point, poly []geom.Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(p, a, b) {
			return true
		}
		// Half-open rule on Y avoids double counting shared vertices.
		if (b.Y > p.Y) != (a.Y > p.Y) {
			xCross := (a.X-b.X)*(p.Y-b.Y)/(a.Y-b.Y) + b.X
			if p.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(p, a, b geom.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > onEdgeEpsilon*math.Max(1, math.Hypot(b.X-a.X, b.Y-a.Y)) {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-onEdgeEpsilon && p.X <= math.Max(a.X, b.X)+onEdgeEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-onEdgeEpsilon && p.Y <= math.Max(a.Y, b.Y)+onEdgeEpsilon
}
