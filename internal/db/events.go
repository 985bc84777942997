package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/presence.report/internal/presence"
)

// EventRecord is a stored presence event.
type EventRecord struct {
	ID               int64         `json:"id"`
	EpisodeID        string        `json:"episode_id"`
	TrackID          int64         `json:"track_id"`
	Kind             presence.Kind `json:"kind"`
	Zones            []string      `json:"zones"`
	EventUnix        float64       `json:"event_unix"`
	DurationS        *float64      `json:"duration_s,omitempty"`
	FirstArrivalUnix *float64      `json:"first_arrival_unix,omitempty"`
	LastSeenUnix     *float64      `json:"last_seen_unix,omitempty"`
}

// Time returns the event time.
func (r EventRecord) Time() time.Time {
	return unixToTime(r.EventUnix)
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func unixToTime(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func optionalUnix(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := timeToUnix(t)
	return &v
}

// RecordEvent appends ev.
func (db *DB) RecordEvent(ev presence.Event) error {
	zones := ev.Zones
	if zones == nil {
		zones = []string{}
	}
	zonesJSON, err := json.Marshal(zones)
	if err != nil {
		return fmt.Errorf("encode zones: %w", err)
	}

	_, err = db.Exec(`INSERT INTO presence_events (
			episode_id, track_id, kind, zones, event_unix, duration_s,
			first_arrival_unix, last_seen_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EpisodeID, ev.TrackID, string(ev.Kind), string(zonesJSON), timeToUnix(ev.Time),
		ev.DurationSeconds(), optionalUnix(ev.FirstArrival), optionalUnix(ev.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("insert %s event for track %d: %w", ev.Kind, ev.TrackID, err)
	}
	return nil
}

// Events returns up to limit events, newest first. An empty kind matches
// every kind.
func (db *DB) Events(limit int, kind presence.Kind) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	const cols = `id, episode_id, track_id, kind, zones, event_unix, duration_s, first_arrival_unix, last_seen_unix`
	if kind == "" {
		rows, err = db.Query(`SELECT `+cols+` FROM presence_events ORDER BY event_unix DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = db.Query(`SELECT `+cols+` FROM presence_events WHERE kind = ? ORDER BY event_unix DESC, id DESC LIMIT ?`, string(kind), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r         EventRecord
			kindStr   string
			zonesJSON string
		)
		if err := rows.Scan(&r.ID, &r.EpisodeID, &r.TrackID, &kindStr, &zonesJSON,
			&r.EventUnix, &r.DurationS, &r.FirstArrivalUnix, &r.LastSeenUnix); err != nil {
			return nil, err
		}
		r.Kind = presence.Kind(kindStr)
		if err := json.Unmarshal([]byte(zonesJSON), &r.Zones); err != nil {
			return nil, fmt.Errorf("decode zones of event %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventCounts returns the number of events of each kind since the given
// time.
func (db *DB) EventCounts(since time.Time) (map[presence.Kind]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM presence_events WHERE event_unix >= ? GROUP BY kind`, timeToUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[presence.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[presence.Kind(kind)] = n
	}
	return out, rows.Err()
}

// Episode is one arrival with its departure, if it has happened.
type Episode struct {
	EpisodeID     string   `json:"episode_id"`
	TrackID       int64    `json:"track_id"`
	ArrivalUnix   float64  `json:"arrival_unix"`
	DepartureUnix *float64 `json:"departure_unix,omitempty"`
	LastSeenUnix  *float64 `json:"last_seen_unix,omitempty"`
	DurationS     *float64 `json:"duration_s,omitempty"`
	Returns       int      `json:"returns"`
	// Zones are those at departure, or at arrival for open episodes.
	Zones []string `json:"zones"`
	Open  bool     `json:"open"`
}

// Episodes returns up to limit episodes, most recent arrival first.
func (db *DB) Episodes(limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT a.episode_id, a.track_id, a.event_unix, a.zones,
		       d.event_unix, d.last_seen_unix, d.duration_s, d.zones,
		       (SELECT COUNT(*) FROM presence_events r
		         WHERE r.episode_id = a.episode_id AND r.kind = 'return')
		  FROM presence_events a
		  LEFT JOIN presence_events d
		    ON d.episode_id = a.episode_id AND d.kind = 'departure'
		 WHERE a.kind = 'arrival'
		 ORDER BY a.event_unix DESC, a.id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			ep            Episode
			arrivalZones  string
			departedZones sql.NullString
		)
		if err := rows.Scan(&ep.EpisodeID, &ep.TrackID, &ep.ArrivalUnix, &arrivalZones,
			&ep.DepartureUnix, &ep.LastSeenUnix, &ep.DurationS, &departedZones, &ep.Returns); err != nil {
			return nil, err
		}
		ep.Open = ep.DepartureUnix == nil
		zones := arrivalZones
		if departedZones.Valid {
			zones = departedZones.String
		}
		if err := json.Unmarshal([]byte(zones), &ep.Zones); err != nil {
			return nil, fmt.Errorf("decode zones of episode %s: %w", ep.EpisodeID, err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
