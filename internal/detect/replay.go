package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/banshee-data/presence.report/internal/capture"
)

// ReplayDetector returns pre-recorded detections, one fixture line per
// frame, looping when it reaches the end. Each line is a JSON array of
// detections; blank lines and lines starting with '#' are ignored, and an
// empty array is a frame with nothing in it.
type ReplayDetector struct {
	mu     sync.Mutex
	frames [][]Detection
	next   int
}

// NewReplayDetector parses a fixture stream.
func NewReplayDetector(r io.Reader) (*ReplayDetector, error) {
	var frames [][]Detection
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var dets []Detection
		if err := json.Unmarshal([]byte(text), &dets); err != nil {
			return nil, fmt.Errorf("replay fixture line %d: %w", line, err)
		}
		frames = append(frames, dets)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay fixture: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("replay fixture has no frames")
	}
	return &ReplayDetector{frames: frames}, nil
}

// OpenReplayDetector loads a fixture file.
func OpenReplayDetector(path string) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay fixture: %w", err)
	}
	defer f.Close()
	return NewReplayDetector(f)
}

// Detect ignores the frame contents and returns the next fixture frame.
func (r *ReplayDetector) Detect(ctx context.Context, _ capture.Frame) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.frames[r.next]
	r.next = (r.next + 1) % len(r.frames)

	out := make([]Detection, len(src))
	copy(out, src)
	return out, nil
}

// Len returns the number of fixture frames in one loop.
func (r *ReplayDetector) Len() int {
	return len(r.frames)
}
