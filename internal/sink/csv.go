package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/banshee-data/presence.report/internal/presence"
)

// TimeLayout is the second-precision local timestamp used in CSV logs.
const TimeLayout = "2006-01-02 15:04:05"

// CSVFormat selects the row layout.
type CSVFormat int

const (
	// FormatEvents writes one row per event:
	// id,event,zones,time,duration
	FormatEvents CSVFormat = iota
	// FormatEpisodes writes one row per departure:
	// id,first_arrival,last_departure,total_duration
	FormatEpisodes
)

var csvHeaders = map[CSVFormat][]string{
	FormatEvents:   {"id", "event", "zones", "time", "duration"},
	FormatEpisodes: {"id", "first_arrival", "last_departure", "total_duration"},
}

// CSVSink appends events to a CSV file. Each row is flushed as soon as it
// is written so the log survives a crash.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	format CSVFormat
	f      *os.File
	w      *csv.Writer
}

// OpenCSV opens or creates path, creating parent directories as needed. The
// header row is written only when the file is new or empty.
func OpenCSV(path string, format CSVFormat) (*CSVSink, error) {
	header, ok := csvHeaders[format]
	if !ok {
		return nil, fmt.Errorf("unknown csv format %d", format)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat event log: %w", err)
	}

	s := &CSVSink{path: path, format: format, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeRow(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	diagf("csv log %s opened", path)
	return s, nil
}

// Path returns the log file path.
func (s *CSVSink) Path() string { return s.path }

// Write appends ev. In FormatEpisodes only departures produce a row.
func (s *CSVSink) Write(ev presence.Event) error {
	var row []string
	switch s.format {
	case FormatEpisodes:
		if ev.Kind != presence.KindDeparture {
			return nil
		}
		row = EpisodeRow(ev)
	default:
		row = EventRow(ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return errors.New("csv sink closed")
	}
	return s.writeRow(row)
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w.Flush()
	err := errors.Join(s.w.Error(), s.f.Close())
	s.w = nil
	return err
}

// EventRow renders ev as id,event,zones,time,duration.
func EventRow(ev presence.Event) []string {
	duration := ""
	if ev.Duration != nil {
		duration = formatSeconds(ev.Duration.Seconds())
	}
	return []string{
		fmt.Sprint(ev.TrackID),
		string(ev.Kind),
		strings.Join(ev.Zones, ","),
		ev.Time.Format(TimeLayout),
		duration,
	}
}

// EpisodeRow renders a departure as id,first_arrival,last_departure,total_duration.
func EpisodeRow(ev presence.Event) []string {
	total := 0.0
	if ev.Duration != nil {
		total = ev.Duration.Seconds()
	}
	return []string{
		fmt.Sprint(ev.TrackID),
		ev.FirstArrival.Format(TimeLayout),
		ev.LastSeen.Format(TimeLayout),
		formatSeconds(total),
	}
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.2fs", s)
}
