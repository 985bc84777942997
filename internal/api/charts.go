package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// dwellBucketEdges are histogram dividers in seconds. The last edge is
// open-ended.
var dwellBucketEdges = []float64{0, 10, 30, 60, 120, 300, 600, 1800, 3600, math.Inf(1)}

var dwellBucketLabels = []string{"<10s", "10-30s", "30-60s", "1-2m", "2-5m", "5-10m", "10-30m", "30-60m", ">1h"}

// dwellHistogram counts sorted durations into dwellBucketEdges.
func dwellHistogram(sorted []float64) []float64 {
	counts := make([]float64, len(dwellBucketEdges)-1)
	if len(sorted) == 0 {
		return counts
	}
	clean := sorted
	if clean[0] < 0 {
		// stat.Histogram panics on data below the first edge.
		clean = make([]float64, len(sorted))
		for i, v := range sorted {
			clean[i] = math.Max(v, 0)
		}
	}
	return stat.Histogram(counts, dwellBucketEdges, clean, nil)
}

// dwellChart renders a histogram (HTML) of completed visit durations.
// Query params:
//   - days (optional; default 1)
func (s *Server) dwellChart(w http.ResponseWriter, r *http.Request) {
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
	durations, err := s.db.DwellDurations(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve dwell durations: %v", err))
		return
	}
	summary := db.SummarizeDwell(durations)

	counts := dwellHistogram(durations)
	y := make([]opts.BarData, len(counts))
	for i, c := range counts {
		y[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Dwell time", Width: "100%", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Dwell time, last %d day(s)", days),
			Subtitle: fmt.Sprintf("visits=%d mean=%.1fs p50=%.1fs p85=%.1fs p98=%.1fs",
				summary.Count, summary.Mean, summary.P50, summary.P85, summary.P98),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Duration", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Visits"}),
	)
	bar.SetXAxis(dwellBucketLabels).
		AddSeries("visits", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
