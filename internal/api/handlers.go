package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/render"
	"github.com/banshee-data/presence.report/internal/version"
	"github.com/banshee-data/presence.report/internal/zone"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	maxDays      = 365
)

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event store not configured")
		return
	}

	limit, err := httputil.QueryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	kind := presence.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		httputil.BadRequest(w, fmt.Sprintf("unknown event kind %q", kind))
		return
	}

	events, err := s.db.Events(limit, kind)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []db.EventRecord{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event store not configured")
		return
	}

	limit, err := httputil.QueryInt(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	episodes, err := s.db.Episodes(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve episodes: %v", err))
		return
	}
	if episodes == nil {
		episodes = []db.Episode{}
	}
	httputil.WriteJSONOK(w, episodes)
}

type tracksResponse struct {
	Counts presence.Counts       `json:"counts"`
	Tracks []presence.TrackState `json:"tracks"`
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.pipe == nil {
		httputil.ServiceUnavailable(w, "pipeline not running")
		return
	}

	tracks := s.pipe.Tracks()
	resp := tracksResponse{Tracks: tracks}
	if resp.Tracks == nil {
		resp.Tracks = []presence.TrackState{}
	}
	for _, t := range tracks {
		resp.Counts.Active++
		if t.Present {
			resp.Counts.Present++
		} else {
			resp.Counts.Absent++
		}
	}
	httputil.WriteJSONOK(w, resp)
}

type statsResponse struct {
	Version     version.Info          `json:"version"`
	UptimeS     float64               `json:"uptime_s"`
	Pipeline    *pipeline.Stats       `json:"pipeline,omitempty"`
	EventsToday map[presence.Kind]int `json:"events_today,omitempty"`
	Subscribers int                   `json:"live_subscribers"`
	LiveDropped uint64                `json:"live_dropped"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}

	now := s.clock.Now()
	resp := statsResponse{
		Version: version.Get(),
		UptimeS: now.Sub(s.started).Seconds(),
	}
	if s.pipe != nil {
		st := s.pipe.Stats()
		resp.Pipeline = &st
	}
	if s.db != nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		counts, err := s.db.EventCounts(midnight)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to count events: %v", err))
			return
		}
		resp.EventsToday = counts
	}
	if s.live != nil {
		resp.Subscribers = s.live.Subscribers()
		resp.LiveDropped = s.live.Dropped()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	zones := s.zones.Zones()
	if zones == nil {
		zones = []zone.Zone{}
	}
	httputil.WriteJSONOK(w, zones)
}

type dwellResponse struct {
	Days  int           `json:"days"`
	Since time.Time     `json:"since"`
	Stats db.DwellStats `json:"stats"`
}

// sinceDays parses ?days= (default 1) into a cut-off time.
func (s *Server) sinceDays(r *http.Request) (int, time.Time, error) {
	days, err := httputil.QueryInt(r, "days", 1, 1, maxDays)
	if err != nil {
		return 0, time.Time{}, err
	}
	return days, s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour), nil
}

func (s *Server) showDwell(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "event store not configured")
		return
	}

	days, since, err := s.sinceDays(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	stats, err := s.db.DwellStats(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve dwell stats: %v", err))
		return
	}
	httputil.WriteJSONOK(w, dwellResponse{Days: days, Since: since, Stats: stats})
}

func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.snapshot == nil {
		httputil.ServiceUnavailable(w, "renderer not configured")
		return
	}

	img, err := s.snapshot.PNG(render.DefaultWidth, render.DefaultHeight)
	if errors.Is(err, render.ErrNoFrame) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}
