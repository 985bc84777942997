package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/sink"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func init() {
	SetLogWriters(monitoring.LogWriters{})
	capture.SetLogWriters(monitoring.LogWriters{})
	presence.SetLogWriters(monitoring.LogWriters{})
}

var t0 = time.Date(2025, 7, 3, 9, 0, 0, 0, time.UTC)

// feeder hands frames to the pipeline one at a time.
type feeder struct {
	frames chan capture.Frame
	err    error
}

func newFeeder() *feeder { return &feeder{frames: make(chan capture.Frame)} }

func (f *feeder) Run(ctx context.Context, emit func(capture.Frame)) error {
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-f.frames:
			if !ok {
				return f.err
			}
			seq++
			fr.Seq = seq
			emit(fr)
		}
	}
}

type harness struct {
	t         *testing.T
	p         *Pipeline
	src       *feeder
	clock     *timeutil.MockClock
	processed chan presence.FrameResult
	cancel    context.CancelFunc
	done      chan error

	mu     sync.Mutex
	events []presence.Event
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ep-%d", n)
	}
}

func newHarness(t *testing.T, det detect.Detector, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		src:       newFeeder(),
		clock:     timeutil.NewMockClock(t0),
		processed: make(chan presence.FrameResult, 16),
		done:      make(chan error, 1),
	}
	cfg := Config{
		Source:   h.src,
		Detector: det,
		Filter:   detect.DefaultFilter(),
		Tracker:  presence.NewTracker(presence.Config{LostTimeout: 3 * time.Second, NewEpisodeID: counterIDs()}, nil),
		Sink: sink.Func(func(ev presence.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events = append(h.events, ev)
			return nil
		}),
		Observers: []Observer{ObserverFunc(func(_ capture.Frame, res presence.FrameResult) {
			h.processed <- res
		})},
		Clock: h.clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	h.p = p
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.p.Run(ctx) }()
	h.t.Cleanup(cancel)
}

func (h *harness) send() {
	h.t.Helper()
	select {
	case h.src.frames <- capture.Frame{Width: 64, Height: 48, Data: make([]byte, 64*48)}:
	case <-time.After(2 * time.Second):
		h.t.Fatal("pipeline did not accept frame")
	}
}

// step sends one frame and waits until it has been fully processed.
func (h *harness) step() presence.FrameResult {
	h.t.Helper()
	h.send()
	select {
	case res := <-h.processed:
		return res
	case <-time.After(2 * time.Second):
		h.t.Fatal("frame not processed")
		return presence.FrameResult{}
	}
}

func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("Run did not return after cancel")
		return nil
	}
}

func (h *harness) recorded() []presence.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]presence.Event(nil), h.events...)
}

func replay(t *testing.T, lines ...string) *detect.ReplayDetector {
	t.Helper()
	r, err := detect.NewReplayDetector(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return r
}

const (
	personOne = `[{"track_id":1,"class":"person","confidence":0.9,"bbox":{"x1":10,"y1":10,"x2":20,"y2":20}},` +
		`{"track_id":9,"class":"chair","confidence":0.99,"bbox":{"x1":0,"y1":0,"x2":5,"y2":5}}]`
	nobody = `[]`
)

func TestPipeline_ArrivalAndDeparture(t *testing.T) {
	h := newHarness(t, replay(t, personOne, personOne, personOne, nobody, nobody, nobody, nobody), nil)
	h.start()

	for i := 0; i < 7; i++ {
		h.step()
		h.clock.Advance(time.Second)
	}
	require.NoError(t, h.stop())

	d := 2 * time.Second
	want := []presence.Event{
		{TrackID: 1, EpisodeID: "ep-1", Kind: presence.KindArrival, Time: t0},
		{
			TrackID: 1, EpisodeID: "ep-1", Kind: presence.KindDeparture, Time: t0.Add(6 * time.Second),
			Duration: &d, FirstArrival: t0, LastSeen: t0.Add(2 * time.Second),
		},
	}
	if diff := cmp.Diff(want, h.recorded(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	st := h.p.Stats()
	assert.False(t, st.Running)
	assert.Equal(t, uint64(7), st.FramesProcessed)
	assert.Equal(t, uint64(3), st.Detections, "chair detections are filtered out")
	assert.Equal(t, map[presence.Kind]uint64{presence.KindArrival: 1, presence.KindDeparture: 1}, st.Events)
	assert.Equal(t, t0.Add(6*time.Second), st.LastFrameAt)
	assert.Nil(t, st.Source)
	assert.Empty(t, h.p.Tracks())
}

func TestPipeline_FlushOnShutdown(t *testing.T) {
	h := newHarness(t, replay(t, personOne), func(c *Config) { c.FlushOnShutdown = true })
	h.start()

	h.step()
	h.clock.Advance(time.Second)
	h.step()
	require.Len(t, h.p.Tracks(), 1)
	assert.Equal(t, int64(1), h.p.Tracks()[0].TrackID)
	assert.Equal(t, 1, h.p.Stats().Tracks.Present)

	h.clock.Advance(time.Second)
	require.NoError(t, h.stop())

	events := h.recorded()
	require.Len(t, events, 2)
	last := events[1]
	assert.Equal(t, presence.KindDeparture, last.Kind)
	assert.Equal(t, t0.Add(2*time.Second), last.Time)
	require.NotNil(t, last.Duration)
	assert.Equal(t, time.Second, *last.Duration)
	assert.Empty(t, h.p.Tracks())
}

func TestPipeline_NoFlushLeavesTracksOpen(t *testing.T) {
	h := newHarness(t, replay(t, personOne), nil)
	h.start()
	h.step()
	require.NoError(t, h.stop())

	events := h.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, presence.KindArrival, events[0].Kind)
	assert.Len(t, h.p.Tracks(), 1)
}

func TestPipeline_DetectorErrorSkipsFrame(t *testing.T) {
	calls := 0
	det := detect.DetectorFunc(func(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("inference unavailable")
		}
		return []detect.Detection{{TrackID: detect.ID(4), Class: "person", Confidence: 0.8}}, nil
	})
	h := newHarness(t, det, nil)
	h.start()

	h.send()
	require.Eventually(t, func() bool { return h.p.Stats().DetectorErrors == 1 }, 2*time.Second, 5*time.Millisecond)

	res := h.step()
	assert.Equal(t, []int64{4}, res.Present)
	require.NoError(t, h.stop())

	st := h.p.Stats()
	assert.Equal(t, uint64(1), st.FramesProcessed)
	assert.Equal(t, uint64(1), st.DetectorErrors)
}

func TestPipeline_DetectorOutageLongerThanTimeoutSplitsVisit(t *testing.T) {
	calls := 0
	det := detect.DetectorFunc(func(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
		calls++
		if calls > 1 && calls < 7 {
			return nil, errors.New("inference unavailable")
		}
		return []detect.Detection{{TrackID: detect.ID(4), Class: "person", Confidence: 0.8}}, nil
	})
	h := newHarness(t, det, nil)
	h.start()

	h.step()
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		h.send()
		want := uint64(i + 1)
		require.Eventually(t, func() bool { return h.p.Stats().DetectorErrors == want }, 2*time.Second, 5*time.Millisecond)
	}
	h.clock.Advance(time.Second)
	h.step()
	require.NoError(t, h.stop())

	zero := time.Duration(0)
	want := []presence.Event{
		{TrackID: 4, EpisodeID: "ep-1", Kind: presence.KindArrival, Time: t0},
		{
			TrackID: 4, EpisodeID: "ep-1", Kind: presence.KindDeparture, Time: t0.Add(6 * time.Second),
			Duration: &zero, FirstArrival: t0, LastSeen: t0,
		},
		{TrackID: 4, EpisodeID: "ep-2", Kind: presence.KindArrival, Time: t0.Add(6 * time.Second)},
	}
	if diff := cmp.Diff(want, h.recorded(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_SinkErrorIsCountedNotFatal(t *testing.T) {
	h := newHarness(t, replay(t, personOne, nobody), func(c *Config) {
		c.Sink = sink.Func(func(presence.Event) error { return errors.New("disk full") })
	})
	h.start()

	res := h.step()
	require.Len(t, res.Events, 1)
	h.step()
	require.NoError(t, h.stop())

	st := h.p.Stats()
	assert.Equal(t, uint64(1), st.SinkErrors)
	assert.Equal(t, uint64(2), st.FramesProcessed)
	assert.Equal(t, uint64(1), st.Events[presence.KindArrival])
}

func TestPipeline_RecoversPanic(t *testing.T) {
	calls := 0
	det := detect.DetectorFunc(func(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
		calls++
		if calls == 1 {
			panic("bad frame")
		}
		return nil, nil
	})
	h := newHarness(t, det, nil)
	h.start()

	h.send()
	require.Eventually(t, func() bool { return h.p.Stats().RecoveredPanics == 1 }, 2*time.Second, 5*time.Millisecond)
	h.step()
	require.NoError(t, h.stop())
	assert.Equal(t, uint64(1), h.p.Stats().FramesProcessed)
}

func TestPipeline_StopsPromptlyWithBlockedDetector(t *testing.T) {
	entered := make(chan struct{})
	det := detect.DetectorFunc(func(ctx context.Context, _ capture.Frame) ([]detect.Detection, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, det, nil)
	h.start()

	h.send()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detector never called")
	}

	start := time.Now()
	require.NoError(t, h.stop())
	assert.Less(t, time.Since(start), time.Second)

	st := h.p.Stats()
	assert.Equal(t, uint64(1), st.FramesDropped)
	assert.Equal(t, uint64(0), st.FramesProcessed)
	assert.True(t, st.Relay.Closed)
}

func TestPipeline_SourceErrorStopsRun(t *testing.T) {
	h := newHarness(t, replay(t, nobody), nil)
	h.src.err = errors.New("device gone")
	h.start()
	close(h.src.frames)

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "device gone")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPipeline_RunTwice(t *testing.T) {
	h := newHarness(t, replay(t, nobody), nil)
	h.start()
	require.Eventually(t, func() bool { return h.p.Stats().Running }, 2*time.Second, 5*time.Millisecond)

	err := h.p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunning)
	require.NoError(t, h.stop())
}

func TestPipeline_WithCaptureSource(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	dev := capture.NewSyntheticDevice(30)
	dev.Clock = clock
	src := capture.NewSource(dev, capture.SourceConfig{Clock: clock})

	p, err := New(Config{
		Source:   src,
		Detector: replay(t, personOne, nobody),
		Filter:   detect.DefaultFilter(),
		Tracker:  presence.NewTracker(presence.Config{}, nil),
		Clock:    clock,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Stats().FramesProcessed >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	st := p.Stats()
	require.NotNil(t, st.Source)
	assert.GreaterOrEqual(t, st.Source.FramesRead, st.FramesProcessed)
	assert.Equal(t, st.Source.FramesRead, st.Relay.Pushed+st.Relay.Dropped+st.Relay.Rejected)
}

func TestNew_Validates(t *testing.T) {
	tracker := presence.NewTracker(presence.Config{}, nil)
	det := detect.DetectorFunc(func(context.Context, capture.Frame) ([]detect.Detection, error) { return nil, nil })

	_, err := New(Config{Detector: det, Tracker: tracker})
	assert.Error(t, err)
	_, err = New(Config{Source: newFeeder(), Tracker: tracker})
	assert.Error(t, err)
	_, err = New(Config{Source: newFeeder(), Detector: det})
	assert.Error(t, err)

	p, err := New(Config{Source: newFeeder(), Detector: det, Tracker: tracker})
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stats().Relay.Capacity)
	assert.Empty(t, p.Tracks())
}
