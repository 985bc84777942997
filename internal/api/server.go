// Package api serves the HTTP view of the presence pipeline: stored events
// and episodes, the live track table, dwell statistics, and a websocket
// stream of events as they happen.
package api

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/pipeline"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/sink"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/zone"
	"gonum.org/v1/plot/vg"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// PipelineView is the read-only pipeline surface the API needs.
// *pipeline.Pipeline implements it.
type PipelineView interface {
	Tracks() []presence.TrackState
	Stats() pipeline.Stats
}

// Snapshotter renders the latest frame. *render.Renderer implements it.
type Snapshotter interface {
	PNG(w, h vg.Length) ([]byte, error)
}

// Config lists the server's collaborators. Any of them may be nil; the
// endpoints that need a missing one answer 503.
type Config struct {
	DB       *db.DB
	Pipeline PipelineView
	Zones    *zone.Index
	Live     *sink.Broadcast
	Snapshot Snapshotter
	Clock    timeutil.Clock
}

type Server struct {
	db       *db.DB
	pipe     PipelineView
	zones    *zone.Index
	live     *sink.Broadcast
	snapshot Snapshotter
	clock    timeutil.Clock
	started  time.Time
}

func NewServer(cfg Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		db:       cfg.DB,
		pipe:     cfg.Pipeline,
		zones:    cfg.Zones,
		live:     cfg.Live,
		snapshot: cfg.Snapshot,
		clock:    clock,
		started:  clock.Now(),
	}
}

// ServeMux returns the API routes. Debug routes are attached separately
// with db.AttachAdminRoutes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/events/live", s.streamEvents)
	mux.HandleFunc("/api/episodes", s.listEpisodes)
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/zones", s.listZones)
	mux.HandleFunc("/api/dwell", s.showDwell)
	mux.HandleFunc("/charts/dwell", s.dwellChart)
	mux.HandleFunc("/snapshot.png", s.serveSnapshot)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes through to the underlying writer so websocket upgrades
// work behind the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
