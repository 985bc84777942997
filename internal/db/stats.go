package db

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DwellStats summarizes completed episode durations, in seconds.
type DwellStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_s"`
	P50   float64 `json:"p50_s"`
	P85   float64 `json:"p85_s"`
	P98   float64 `json:"p98_s"`
	Max   float64 `json:"max_s"`
}

// DwellDurations returns departure durations (seconds) since the given
// time, ascending.
func (db *DB) DwellDurations(since time.Time) ([]float64, error) {
	rows, err := db.Query(`SELECT duration_s FROM presence_events
		WHERE kind = 'departure' AND duration_s IS NOT NULL AND event_unix >= ?`, timeToUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Float64s(out)
	return out, nil
}

// DwellStats computes dwell statistics for departures since the given time.
// All fields are zero when there are none.
func (db *DB) DwellStats(since time.Time) (DwellStats, error) {
	durations, err := db.DwellDurations(since)
	if err != nil {
		return DwellStats{}, err
	}
	return SummarizeDwell(durations), nil
}

// SummarizeDwell computes DwellStats over sorted durations.
func SummarizeDwell(sorted []float64) DwellStats {
	if len(sorted) == 0 {
		return DwellStats{}
	}
	return DwellStats{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P85:   stat.Quantile(0.85, stat.Empirical, sorted, nil),
		P98:   stat.Quantile(0.98, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
	}
}
