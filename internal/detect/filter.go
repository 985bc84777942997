package detect

// Filter defaults.
const (
	DefaultTargetClass   = "person"
	DefaultMinConfidence = 0.5
)

// Filter keeps detections of one class above a confidence threshold that
// carry a track id.
type Filter struct {
	TargetClass string
	// MinConfidence is exclusive: a detection must score strictly above it.
	MinConfidence float64
}

// DefaultFilter returns a person filter at 0.5 confidence.
func DefaultFilter() Filter {
	return Filter{TargetClass: DefaultTargetClass, MinConfidence: DefaultMinConfidence}
}

// Keep reports whether d passes the filter.
func (f Filter) Keep(d Detection) bool {
	return d.Class == f.TargetClass && d.Confidence > f.MinConfidence && d.TrackID != nil
}

// Apply returns the detections that pass, preserving order. The input slice
// is not modified.
func (f Filter) Apply(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if f.Keep(d) {
			out = append(out, d)
		}
	}
	return out
}
