// Package presence turns per-frame tracked detections into arrival, return
// and departure events with dwell durations.
//
// A Tracker owns its track table and is driven by one goroutine: call
// Update once per processed frame, in frame order.
package presence

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/zone"
)

// DefaultLostTimeout is how long a track may go unseen before it departs.
const DefaultLostTimeout = 3 * time.Second

// Config controls tracker behaviour.
type Config struct {
	// LostTimeout is the grace window. A track unseen for strictly longer
	// departs; reappearing within it is a return.
	LostTimeout time.Duration
	// EmitZoneUpdates adds an update event whenever a present track's zone
	// set changes.
	EmitZoneUpdates bool
	// NewEpisodeID overrides episode id generation. Defaults to a random
	// UUID.
	NewEpisodeID func() string
}

// TrackState is the bookkeeping for one track id within one episode.
type TrackState struct {
	TrackID      int64     `json:"track_id"`
	EpisodeID    string    `json:"episode_id"`
	FirstArrival time.Time `json:"first_arrival"`
	// LastSeen keeps the monotonic reading of the frame time it came from.
	LastSeen           time.Time     `json:"last_seen"`
	Zones              []string      `json:"zones"`
	CumulativeDuration time.Duration `json:"cumulative_duration"`
	// Present is false while the track is inside the grace window.
	Present bool `json:"present"`
}

func (s TrackState) clone() TrackState {
	s.Zones = slices.Clone(s.Zones)
	return s
}

// Counts summarizes the track table.
type Counts struct {
	Active  int `json:"active"`
	Present int `json:"present"`
	Absent  int `json:"absent"` // inside the grace window
}

// Tracker maintains one TrackState per live track id. It is not safe for
// concurrent use.
type Tracker struct {
	cfg    Config
	zones  *zone.Index
	tracks map[int64]*TrackState
}

// NewTracker returns a tracker. A nil zone index disables zone attribution.
func NewTracker(cfg Config, zones *zone.Index) *Tracker {
	if cfg.LostTimeout <= 0 {
		cfg.LostTimeout = DefaultLostTimeout
	}
	if cfg.NewEpisodeID == nil {
		cfg.NewEpisodeID = uuid.NewString
	}
	return &Tracker{cfg: cfg, zones: zones, tracks: make(map[int64]*TrackState)}
}

// LostTimeout returns the effective grace window.
func (t *Tracker) LostTimeout() time.Duration { return t.cfg.LostTimeout }

type sighting struct {
	id    int64
	zones []string
}

// Update applies one frame of detections observed at now. Detections that
// cannot be applied are reported in the result and never affect other
// tracks.
func (t *Tracker) Update(dets []detect.Detection, now time.Time) FrameResult {
	res := FrameResult{Time: now, Results: make([]Result, len(dets))}

	seen := make(map[int64]bool, len(dets))
	sightings := make([]sighting, 0, len(dets))
	for i, d := range dets {
		r := t.classify(i, d, seen)
		res.Results[i] = r
		if r.Skipped {
			tracef("skip detection %d: %s", i, r.Reason)
			continue
		}
		seen[*r.TrackID] = true
		sightings = append(sightings, sighting{id: *r.TrackID, zones: r.Zones})
	}
	slices.SortFunc(sightings, func(a, b sighting) int { return cmp.Compare(a.id, b.id) })

	for _, s := range sightings {
		res.Present = append(res.Present, s.id)
		res.Events = append(res.Events, t.observe(s, now)...)
	}

	res.Events = append(res.Events, t.expire(seen, now)...)
	return res
}

func (t *Tracker) classify(i int, d detect.Detection, seen map[int64]bool) (r Result) {
	r = Result{Index: i, TrackID: d.TrackID, BBox: d.BBox}
	defer func() {
		if p := recover(); p != nil {
			opsf("recovered panic on detection %d: %v", i, p)
			r = Result{Index: i, TrackID: d.TrackID, BBox: d.BBox, Skipped: true, Reason: SkipPanic, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := d.Validate(); err != nil {
		r.Skipped = true
		r.Err = err
		switch {
		case errors.Is(err, detect.ErrNoTrackID):
			r.Reason = SkipMissingTrackID
		default:
			r.Reason = SkipInvalidBBox
		}
		return r
	}

	id := *d.TrackID
	if seen[id] {
		r.Skipped = true
		r.Reason = SkipDuplicate
		r.Err = fmt.Errorf("track %d already seen in this frame", id)
		return r
	}

	r.Zones = t.zones.ZonesContaining(d.Center())
	return r
}

func (t *Tracker) observe(s sighting, now time.Time) []Event {
	var events []Event
	st, ok := t.tracks[s.id]
	if ok && now.Sub(st.LastSeen) > t.cfg.LostTimeout {
		// No frame reached the tracker while the id was away, so expire
		// never ran for it. Close the stale episode before opening a new one.
		events = append(events, t.depart(s.id, now))
		ok = false
	}
	if !ok {
		st = &TrackState{
			TrackID:      s.id,
			EpisodeID:    t.cfg.NewEpisodeID(),
			FirstArrival: now,
			LastSeen:     now,
			Zones:        s.zones,
			Present:      true,
		}
		t.tracks[s.id] = st
		diagf("arrival track=%d zones=%v", s.id, s.zones)
		return append(events, t.event(st, KindArrival, now))
	}

	prevZones := st.Zones
	wasPresent := st.Present

	st.LastSeen = now
	st.Zones = s.zones
	if d := now.Sub(st.FirstArrival); d > st.CumulativeDuration {
		st.CumulativeDuration = d
	}

	if !wasPresent {
		st.Present = true
		diagf("return track=%d zones=%v", s.id, s.zones)
		events = append(events, t.event(st, KindReturn, now))
	} else if t.cfg.EmitZoneUpdates && !slices.Equal(prevZones, s.zones) {
		events = append(events, t.event(st, KindUpdate, now))
	}
	return events
}

func (t *Tracker) expire(seen map[int64]bool, now time.Time) []Event {
	var gone []int64
	for id, st := range t.tracks {
		if seen[id] {
			continue
		}
		if now.Sub(st.LastSeen) > t.cfg.LostTimeout {
			gone = append(gone, id)
			continue
		}
		if st.Present {
			tracef("track=%d lost, grace window open", id)
		}
		st.Present = false
	}
	slices.Sort(gone)

	events := make([]Event, 0, len(gone))
	for _, id := range gone {
		events = append(events, t.depart(id, now))
	}
	return events
}

// depart finalizes and removes a track.
func (t *Tracker) depart(id int64, now time.Time) Event {
	st := t.tracks[id]
	delete(t.tracks, id)

	d := st.LastSeen.Sub(st.FirstArrival)
	if d < 0 {
		d = 0
	}
	st.CumulativeDuration = d

	ev := t.event(st, KindDeparture, now)
	ev.Duration = &d
	ev.FirstArrival = st.FirstArrival
	ev.LastSeen = st.LastSeen
	diagf("departure track=%d duration=%.2fs", id, d.Seconds())
	return ev
}

func (t *Tracker) event(st *TrackState, kind Kind, now time.Time) Event {
	return Event{
		TrackID:   st.TrackID,
		EpisodeID: st.EpisodeID,
		Kind:      kind,
		Zones:     slices.Clone(st.Zones),
		Time:      now,
	}
}

// Flush departs every remaining track, ascending by id, and clears the
// table. Used at shutdown so no open episode is lost.
func (t *Tracker) Flush(now time.Time) []Event {
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, t.depart(id, now))
	}
	return events
}

// Snapshot returns a copy of every live track, ascending by id.
func (t *Tracker) Snapshot() []TrackState {
	out := make([]TrackState, 0, len(t.tracks))
	for _, st := range t.tracks {
		out = append(out, st.clone())
	}
	slices.SortFunc(out, func(a, b TrackState) int { return cmp.Compare(a.TrackID, b.TrackID) })
	return out
}

// Track returns a copy of one track's state.
func (t *Tracker) Track(id int64) (TrackState, bool) {
	st, ok := t.tracks[id]
	if !ok {
		return TrackState{}, false
	}
	return st.clone(), true
}

// Counts returns the number of live, present and in-grace tracks.
func (t *Tracker) Counts() Counts {
	var c Counts
	for _, st := range t.tracks {
		c.Active++
		if st.Present {
			c.Present++
		} else {
			c.Absent++
		}
	}
	return c
}
