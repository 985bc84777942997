package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/detect"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/relay"
	"github.com/banshee-data/presence.report/internal/sink"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// ErrRunning is returned when Run is called on a pipeline that is already
// running.
var ErrRunning = errors.New("pipeline already running")

// FrameSource produces frames until ctx is cancelled. capture.Source is the
// production implementation.
type FrameSource interface {
	Run(ctx context.Context, emit func(capture.Frame)) error
}

// Observer is notified after every processed frame, on the processing
// goroutine. Implementations must not block.
type Observer interface {
	Observe(frame capture.Frame, res presence.FrameResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(frame capture.Frame, res presence.FrameResult)

func (f ObserverFunc) Observe(frame capture.Frame, res presence.FrameResult) { f(frame, res) }

// Config holds the pipeline's collaborators.
type Config struct {
	Source   FrameSource
	Detector detect.Detector
	Filter   detect.Filter
	Tracker  *presence.Tracker
	// Sink may be nil, in which case events are only counted.
	Sink      sink.Sink
	Observers []Observer

	// RelayCapacity bounds the frame hand-off; defaults to relay.DefaultCapacity.
	RelayCapacity int
	// FlushOnShutdown departs every open track when Run returns.
	FlushOnShutdown bool
	Clock           timeutil.Clock
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Running           bool                     `json:"running"`
	FramesProcessed   uint64                   `json:"frames_processed"`
	FramesDropped     uint64                   `json:"frames_dropped"` // popped but abandoned at shutdown
	DetectorErrors    uint64                   `json:"detector_errors"`
	SinkErrors        uint64                   `json:"sink_errors"`
	RecoveredPanics   uint64                   `json:"recovered_panics"`
	Detections        uint64                   `json:"detections"`
	SkippedDetections uint64                   `json:"skipped_detections"`
	Events            map[presence.Kind]uint64 `json:"events"`
	Tracks            presence.Counts          `json:"tracks"`
	LastFrameAt       time.Time                `json:"last_frame_at"`
	Relay             relay.Stats              `json:"relay"`
	Source            *capture.SourceStats     `json:"source,omitempty"`
}

// Pipeline runs acquisition and processing concurrently.
type Pipeline struct {
	cfg   Config
	relay *relay.Relay[capture.Frame]

	running atomic.Bool
	tracks  atomic.Pointer[[]presence.TrackState]

	mu    sync.Mutex
	stats Stats
}

// New validates cfg and returns a pipeline ready to Run.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("pipeline: tracker is required")
	}
	if cfg.RelayCapacity <= 0 {
		cfg.RelayCapacity = relay.DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	p := &Pipeline{
		cfg:   cfg,
		relay: relay.New[capture.Frame](cfg.RelayCapacity),
		stats: Stats{Events: make(map[presence.Kind]uint64)},
	}
	empty := []presence.TrackState{}
	p.tracks.Store(&empty)
	return p, nil
}

// Run blocks until ctx is cancelled. Cancellation closes the relay, which
// wakes the processing goroutine; a detector call already in flight is
// allowed to return and its frame is dropped. Once both goroutines have
// exited, open tracks are flushed when configured. A pipeline runs at most
// once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, p.relay.Close)
	defer stop()

	diagf("starting: relay capacity=%d flush_on_shutdown=%v", p.relay.Cap(), p.cfg.FlushOnShutdown)

	var (
		wg     sync.WaitGroup
		srcErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		// A source that gives up stops the whole pipeline.
		defer cancel()
		srcErr = p.cfg.Source.Run(runCtx, p.acquire)
	}()
	go func() {
		defer wg.Done()
		p.process(runCtx)
	}()
	wg.Wait()
	p.relay.Close()

	if p.cfg.FlushOnShutdown {
		events := p.cfg.Tracker.Flush(p.cfg.Clock.Now())
		p.emit(events)
		p.publish()
		if len(events) > 0 {
			diagf("flushed %d open tracks", len(events))
		}
	}

	rs := p.relay.Stats()
	diagf("stopped: processed=%d relay_dropped=%d relay_discarded=%d",
		p.Stats().FramesProcessed, rs.Dropped, rs.Discarded)

	if srcErr != nil && !errors.Is(srcErr, context.Canceled) && !errors.Is(srcErr, context.DeadlineExceeded) {
		return fmt.Errorf("frame source: %w", srcErr)
	}
	return nil
}

func (p *Pipeline) acquire(f capture.Frame) {
	if !p.relay.Push(f) {
		tracef("relay full, dropped frame %d", f.Seq)
	}
}

func (p *Pipeline) process(ctx context.Context) {
	for {
		frame, ok := p.relay.Pop()
		if !ok {
			return
		}
		p.step(ctx, frame)
	}
}

// step handles one frame. A panic anywhere in the step is logged and the
// frame abandoned; the loop continues with the next frame.
func (p *Pipeline) step(ctx context.Context, frame capture.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.stats.RecoveredPanics++
			p.mu.Unlock()
			opsf("recovered panic processing frame %d: %v", frame.Seq, r)
		}
	}()

	dets, err := p.cfg.Detector.Detect(ctx, frame)
	if ctx.Err() != nil {
		p.mu.Lock()
		p.stats.FramesDropped++
		p.mu.Unlock()
		tracef("frame %d dropped at shutdown", frame.Seq)
		return
	}
	if err != nil {
		p.mu.Lock()
		p.stats.DetectorErrors++
		p.mu.Unlock()
		opsf("detector failed on frame %d: %v", frame.Seq, err)
		return
	}

	kept := p.cfg.Filter.Apply(dets)
	now := p.cfg.Clock.Now()
	res := p.cfg.Tracker.Update(kept, now)
	tracef("frame %d: %d detections, %d kept, %d present, %d events",
		frame.Seq, len(dets), len(kept), len(res.Present), len(res.Events))

	p.mu.Lock()
	p.stats.FramesProcessed++
	p.stats.Detections += uint64(len(kept))
	p.stats.SkippedDetections += uint64(res.Skipped())
	p.stats.LastFrameAt = now
	p.mu.Unlock()

	p.emit(res.Events)
	p.publish()

	for _, o := range p.cfg.Observers {
		o.Observe(frame, res)
	}
}

func (p *Pipeline) emit(events []presence.Event) {
	for _, ev := range events {
		diagf("%s track=%d zones=%v", ev.Kind, ev.TrackID, ev.Zones)
		var err error
		if p.cfg.Sink != nil {
			err = p.cfg.Sink.Write(ev)
		}

		p.mu.Lock()
		p.stats.Events[ev.Kind]++
		if err != nil {
			p.stats.SinkErrors++
		}
		p.mu.Unlock()

		if err != nil {
			opsf("sink write failed for %s of track %d: %v", ev.Kind, ev.TrackID, err)
		}
	}
}

func (p *Pipeline) publish() {
	snap := p.cfg.Tracker.Snapshot()
	counts := presence.Counts{Active: len(snap)}
	for _, st := range snap {
		if st.Present {
			counts.Present++
		} else {
			counts.Absent++
		}
	}
	p.tracks.Store(&snap)

	p.mu.Lock()
	p.stats.Tracks = counts
	p.mu.Unlock()
}

// Tracks returns the track table as of the last processed frame. The
// returned slice must not be modified.
func (p *Pipeline) Tracks() []presence.TrackState {
	return *p.tracks.Load()
}

// Stats returns a copy of the current counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	s := p.stats
	s.Events = make(map[presence.Kind]uint64, len(p.stats.Events))
	for k, v := range p.stats.Events {
		s.Events[k] = v
	}
	p.mu.Unlock()

	s.Running = p.running.Load()
	s.Relay = p.relay.Stats()
	if src, ok := p.cfg.Source.(interface{ Stats() capture.SourceStats }); ok {
		ss := src.Stats()
		s.Source = &ss
	}
	return s
}
