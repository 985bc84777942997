package presence

import (
	"time"

	"github.com/banshee-data/presence.report/internal/geom"
)

// SkipReason explains why a detection was not applied to the track table.
type SkipReason string

const (
	SkipMissingTrackID SkipReason = "missing track id"
	SkipInvalidBBox    SkipReason = "invalid bbox"
	SkipDuplicate      SkipReason = "duplicate track id"
	SkipPanic          SkipReason = "recovered panic"
)

// Result is the outcome for one detection of a frame.
type Result struct {
	// Index is the detection's position in the Update input.
	Index   int
	TrackID *int64
	// BBox is the detection box; Zones were computed from its center.
	BBox    geom.BBox
	Zones   []string
	Skipped bool
	Reason  SkipReason
	Err     error
}

// FrameResult summarizes one Update call.
type FrameResult struct {
	Time    time.Time
	Results []Result
	Events  []Event
	// Present lists the track ids seen in this frame, ascending.
	Present []int64
}

// Skipped counts skipped detections.
func (r FrameResult) Skipped() int {
	n := 0
	for _, res := range r.Results {
		if res.Skipped {
			n++
		}
	}
	return n
}

// SkipCounts groups skipped detections by reason.
func (r FrameResult) SkipCounts() map[SkipReason]int {
	out := map[SkipReason]int{}
	for _, res := range r.Results {
		if res.Skipped {
			out[res.Reason]++
		}
	}
	return out
}
