package presence

import (
	"encoding/json"
	"time"
)

// Kind is the type of a presence event.
type Kind string

const (
	KindArrival   Kind = "arrival"
	KindReturn    Kind = "return"
	KindDeparture Kind = "departure"
	// KindUpdate is emitted on zone changes when Config.EmitZoneUpdates is set.
	KindUpdate Kind = "update"
)

// Kinds lists every event kind in lifecycle order.
var Kinds = []Kind{KindArrival, KindReturn, KindUpdate, KindDeparture}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindArrival, KindReturn, KindDeparture, KindUpdate:
		return true
	}
	return false
}

// Event is one presence transition for one track.
type Event struct {
	TrackID   int64
	EpisodeID string
	Kind      Kind
	// Zones is ordered as configured; empty when the subject is in no zone
	// or the tracker is unzoned.
	Zones []string
	Time  time.Time
	// Duration is set only on departures.
	Duration *time.Duration

	// FirstArrival and LastSeen bound the episode; set only on departures.
	FirstArrival time.Time
	LastSeen     time.Time
}

// DurationSeconds returns the departure duration in seconds, or nil.
func (e Event) DurationSeconds() *float64 {
	if e.Duration == nil {
		return nil
	}
	s := e.Duration.Seconds()
	return &s
}

type eventJSON struct {
	TrackID      int64      `json:"track_id"`
	EpisodeID    string     `json:"episode_id"`
	Kind         Kind       `json:"kind"`
	Zones        []string   `json:"zones"`
	Time         time.Time  `json:"time"`
	DurationS    *float64   `json:"duration_s,omitempty"`
	FirstArrival *time.Time `json:"first_arrival,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// MarshalJSON renders durations in seconds and always emits a zones array.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		TrackID:   e.TrackID,
		EpisodeID: e.EpisodeID,
		Kind:      e.Kind,
		Zones:     e.Zones,
		Time:      e.Time,
		DurationS: e.DurationSeconds(),
	}
	if out.Zones == nil {
		out.Zones = []string{}
	}
	if !e.FirstArrival.IsZero() {
		fa := e.FirstArrival
		out.FirstArrival = &fa
	}
	if !e.LastSeen.IsZero() {
		ls := e.LastSeen
		out.LastSeen = &ls
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Event{
		TrackID:   in.TrackID,
		EpisodeID: in.EpisodeID,
		Kind:      in.Kind,
		Zones:     in.Zones,
		Time:      in.Time,
	}
	if in.DurationS != nil {
		d := time.Duration(*in.DurationS * float64(time.Second))
		e.Duration = &d
	}
	if in.FirstArrival != nil {
		e.FirstArrival = *in.FirstArrival
	}
	if in.LastSeen != nil {
		e.LastSeen = *in.LastSeen
	}
	return nil
}
