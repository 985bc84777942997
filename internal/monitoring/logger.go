// Package monitoring provides the three-stream logging used across the
// pipeline packages.
//
// Each package owns a Streams value with its own prefix:
//
//   - ops: actionable warnings, errors and lifecycle events
//   - diag: day-to-day diagnostics and tuning context
//   - trace: per-frame telemetry, normally disabled
package monitoring

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writer for each logging stream. A nil writer
// disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Streams is a set of prefixed loggers that can be redirected at runtime.
type Streams struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewStreams returns Streams with ops and diag going to the standard logger
// output and trace disabled.
func NewStreams(prefix string) *Streams {
	s := &Streams{prefix: prefix}
	s.Set(LogWriters{Ops: log.Writer(), Diag: log.Writer()})
	return s
}

// Set replaces all three writers at once.
func (s *Streams) Set(w LogWriters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = NewLogger(s.prefix, w.Ops)
	s.diag = NewLogger(s.prefix, w.Diag)
	s.trace = NewLogger(s.prefix, w.Trace)
}

// NewLogger creates a *log.Logger for w, or returns nil if w is nil.
func NewLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func (s *Streams) Opsf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.ops
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func (s *Streams) Diagf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.diag
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func (s *Streams) Tracef(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.trace
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer, so hot paths
// can skip building expensive trace arguments.
func (s *Streams) TraceEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trace != nil
}
