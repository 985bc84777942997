package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreams_RoutesByStream(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	s := NewStreams("[test] ")
	s.Set(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	s.Opsf("sink write failed: %s", "disk full")
	s.Diagf("connected to %s", "cam0")
	s.Tracef("frame %d", 42)

	assert.Contains(t, ops.String(), "[test] sink write failed: disk full")
	assert.NotContains(t, ops.String(), "connected")
	assert.Contains(t, diag.String(), "connected to cam0")
	assert.Contains(t, trace.String(), "frame 42")
	assert.True(t, s.TraceEnabled())
}

func TestStreams_NilWriterDisables(t *testing.T) {
	var ops bytes.Buffer
	s := NewStreams("[test] ")
	s.Set(LogWriters{Ops: &ops})

	assert.NotPanics(t, func() {
		s.Diagf("dropped")
		s.Tracef("dropped")
	})
	assert.False(t, s.TraceEnabled())

	s.Opsf("kept")
	assert.Contains(t, ops.String(), "kept")
}

func TestNewLogger(t *testing.T) {
	assert.Nil(t, NewLogger("x", nil))

	var buf bytes.Buffer
	l := NewLogger("[p] ", &buf)
	l.Print("hello")
	assert.Contains(t, buf.String(), "[p] ")
	assert.Contains(t, buf.String(), "hello")
}
