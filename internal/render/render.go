// Package render draws the latest processed frame as a top-down sketch:
// zone polygons in their configured colours and one labelled box per
// tracked person. It is a debugging aid served by the HTTP API, not an
// overlay on camera pixels.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/zone"
)

// ErrNoFrame is returned by PNG before the first frame has been observed.
var ErrNoFrame = errors.New("no frame observed yet")

// Default output size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

var trackColor = color.RGBA{R: 0, G: 160, B: 0, A: 255}

// Box is one tracked detection in a Scene.
type Box struct {
	TrackID int64
	BBox    geom.BBox
	Zones   []string
}

// Scene is everything needed to draw one frame.
type Scene struct {
	Seq    uint64
	Time   time.Time
	Width  int
	Height int
	Zones  []zone.Zone
	Boxes  []Box
}

// Renderer keeps the most recent Scene. It implements pipeline.Observer.
type Renderer struct {
	zones []zone.Zone

	mu     sync.Mutex
	scene  Scene
	frames uint64
}

// NewRenderer returns a renderer for the given zones; idx may be nil.
func NewRenderer(idx *zone.Index) *Renderer {
	return &Renderer{zones: idx.Zones()}
}

// Observe records the boxes of every applied detection in res.
func (r *Renderer) Observe(frame capture.Frame, res presence.FrameResult) {
	boxes := make([]Box, 0, len(res.Results))
	for _, d := range res.Results {
		if d.Skipped || d.TrackID == nil {
			continue
		}
		boxes = append(boxes, Box{TrackID: *d.TrackID, BBox: d.BBox, Zones: d.Zones})
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].TrackID < boxes[j].TrackID })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	r.scene = Scene{
		Seq:    frame.Seq,
		Time:   res.Time,
		Width:  frame.Width,
		Height: frame.Height,
		Zones:  r.zones,
		Boxes:  boxes,
	}
}

// Scene returns the latest scene and whether any frame has been observed.
func (r *Renderer) Scene() (Scene, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene, r.frames > 0
}

// PNG renders the latest scene.
func (r *Renderer) PNG(w, h vg.Length) ([]byte, error) {
	scene, ok := r.Scene()
	if !ok {
		return nil, ErrNoFrame
	}
	return RenderPNG(scene, w, h)
}

// RenderPNG draws scene with image coordinates: origin top-left, y down.
func RenderPNG(scene Scene, w, h vg.Length) ([]byte, error) {
	p, err := Plot(scene)
	if err != nil {
		return nil, err
	}
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("create png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Plot builds the plot for scene without encoding it.
func Plot(scene Scene) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frame %d - %s", scene.Seq, scene.Time.Format("15:04:05"))
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Add(plotter.NewGrid())

	if scene.Width > 0 && scene.Height > 0 {
		p.X.Min, p.X.Max = 0, float64(scene.Width)
		p.Y.Min, p.Y.Max = 0, float64(scene.Height)
	}

	for _, z := range scene.Zones {
		pts := make(plotter.XYs, len(z.Polygon))
		for i, v := range z.Polygon {
			pts[i] = plotter.XY{X: v.X, Y: v.Y}
		}
		poly, err := plotter.NewPolygon(pts)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", z.Name, err)
		}
		c := color.RGBA{R: z.Color[0], G: z.Color[1], B: z.Color[2], A: 255}
		poly.Color = color.RGBA{R: c.R, G: c.G, B: c.B, A: 48}
		poly.LineStyle.Color = c
		poly.LineStyle.Width = vg.Points(1.5)
		p.Add(poly)
		p.Legend.Add(z.Name, poly)
	}

	if len(scene.Boxes) > 0 {
		labels := plotter.XYLabels{
			XYs:    make(plotter.XYs, 0, len(scene.Boxes)),
			Labels: make([]string, 0, len(scene.Boxes)),
		}
		for _, b := range scene.Boxes {
			outline, err := plotter.NewLine(boxOutline(b.BBox))
			if err != nil {
				return nil, fmt.Errorf("track %d: %w", b.TrackID, err)
			}
			outline.Color = trackColor
			outline.Width = vg.Points(2)
			p.Add(outline)

			labels.XYs = append(labels.XYs, plotter.XY{X: b.BBox.X1, Y: b.BBox.Y1})
			labels.Labels = append(labels.Labels, boxLabel(b))
		}
		lbl, err := plotter.NewLabels(labels)
		if err != nil {
			return nil, fmt.Errorf("track labels: %w", err)
		}
		p.Add(lbl)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func boxOutline(b geom.BBox) plotter.XYs {
	return plotter.XYs{
		{X: b.X1, Y: b.Y1},
		{X: b.X2, Y: b.Y1},
		{X: b.X2, Y: b.Y2},
		{X: b.X1, Y: b.Y2},
		{X: b.X1, Y: b.Y1},
	}
}

func boxLabel(b Box) string {
	if len(b.Zones) == 0 {
		return fmt.Sprintf("ID %d", b.TrackID)
	}
	return fmt.Sprintf("ID %d [%s]", b.TrackID, strings.Join(b.Zones, ","))
}
