package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/presence"
)

var base = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "presence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func departure(track int64, episode string, arrived, left, at time.Time, zones ...string) presence.Event {
	d := left.Sub(arrived)
	return presence.Event{
		TrackID: track, EpisodeID: episode, Kind: presence.KindDeparture, Zones: zones,
		Time: at, Duration: &d, FirstArrival: arrived, LastSeen: left,
	}
}

func TestNewDB_Migrates(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)

	// Idempotent.
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)
	migrations := MigrationsFS()

	require.NoError(t, db.MigrateDown(migrations))
	v, _, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, db.MigrateTo(migrations, 2))
	v, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "e", Kind: presence.KindArrival, Time: base}))
}

func TestRecordAndQueryEvents(t *testing.T) {
	db := newTestDB(t)

	events := []presence.Event{
		{TrackID: 7, EpisodeID: "ep-7", Kind: presence.KindArrival, Zones: []string{"door"}, Time: base},
		{TrackID: 8, EpisodeID: "ep-8", Kind: presence.KindArrival, Time: base.Add(time.Second)},
		{TrackID: 7, EpisodeID: "ep-7", Kind: presence.KindReturn, Zones: []string{"door", "hall"}, Time: base.Add(2 * time.Second)},
		departure(7, "ep-7", base, base.Add(2500*time.Millisecond), base.Add(6*time.Second), "hall"),
	}
	for _, ev := range events {
		require.NoError(t, db.RecordEvent(ev))
	}

	all, err := db.Events(10, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, presence.KindDeparture, all[0].Kind, "newest first")
	assert.Equal(t, []string{"hall"}, all[0].Zones)
	require.NotNil(t, all[0].DurationS)
	assert.InDelta(t, 2.5, *all[0].DurationS, 1e-9)
	require.NotNil(t, all[0].FirstArrivalUnix)
	assert.InDelta(t, float64(base.Unix()), *all[0].FirstArrivalUnix, 1e-6)
	assert.WithinDuration(t, base.Add(6*time.Second), all[0].Time(), time.Microsecond)

	assert.Equal(t, []string{}, all[2].Zones, "unzoned events store an empty list")
	assert.Nil(t, all[3].DurationS)

	arrivals, err := db.Events(10, presence.KindArrival)
	require.NoError(t, err)
	require.Len(t, arrivals, 2)
	for _, r := range arrivals {
		assert.Equal(t, presence.KindArrival, r.Kind)
	}

	limited, err := db.Events(1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := db.EventCounts(base)
	require.NoError(t, err)
	assert.Equal(t, map[presence.Kind]int{
		presence.KindArrival:   2,
		presence.KindReturn:    1,
		presence.KindDeparture: 1,
	}, counts)
}

func TestRecordEvent_RejectsUnknownKind(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "x", Kind: "teleport", Time: base})
	assert.Error(t, err)
}

func TestEpisodes(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "a", Kind: presence.KindArrival, Zones: []string{"door"}, Time: base}))
	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "a", Kind: presence.KindReturn, Time: base.Add(2 * time.Second)}))
	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "a", Kind: presence.KindReturn, Time: base.Add(4 * time.Second)}))
	require.NoError(t, db.RecordEvent(departure(1, "a", base, base.Add(5*time.Second), base.Add(9*time.Second), "desk")))
	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 2, EpisodeID: "b", Kind: presence.KindArrival, Zones: []string{"hall"}, Time: base.Add(10 * time.Second)}))

	eps, err := db.Episodes(10)
	require.NoError(t, err)
	require.Len(t, eps, 2)

	open := eps[0]
	assert.Equal(t, "b", open.EpisodeID)
	assert.True(t, open.Open)
	assert.Nil(t, open.DurationS)
	assert.Equal(t, []string{"hall"}, open.Zones)

	closed := eps[1]
	assert.Equal(t, "a", closed.EpisodeID)
	assert.False(t, closed.Open)
	assert.Equal(t, 2, closed.Returns)
	require.NotNil(t, closed.DurationS)
	assert.InDelta(t, 5.0, *closed.DurationS, 1e-9)
	require.NotNil(t, closed.LastSeenUnix)
	assert.InDelta(t, float64(base.Add(5*time.Second).Unix()), *closed.LastSeenUnix, 1e-6)
	assert.Equal(t, []string{"desk"}, closed.Zones)
}

func TestDwellStats(t *testing.T) {
	db := newTestDB(t)

	empty, err := db.DwellStats(base)
	require.NoError(t, err)
	assert.Equal(t, DwellStats{}, empty)

	// An old departure outside the window.
	require.NoError(t, db.RecordEvent(departure(99, "old", base.Add(-2*time.Hour), base.Add(-time.Hour), base.Add(-time.Hour))))

	for i, d := range []float64{4, 1, 3, 2, 10} {
		arrived := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.RecordEvent(departure(int64(i), "ep", arrived, arrived.Add(secs(d)), arrived.Add(secs(d)+3*time.Second))))
	}

	durations, err := db.DwellDurations(base)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 10}, durations)

	s, err := db.DwellStats(base)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 4.0, s.Mean, 1e-9)
	assert.Equal(t, 3.0, s.P50)
	assert.Equal(t, 10.0, s.P98)
	assert.Equal(t, 10.0, s.Max)
}

func TestSummarizeDwell(t *testing.T) {
	assert.Equal(t, DwellStats{}, SummarizeDwell(nil))

	s := SummarizeDwell([]float64{2})
	assert.Equal(t, DwellStats{Count: 1, Mean: 2, P50: 2, P85: 2, P98: 2, Max: 2}, s)
}

func TestUnixConversion(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 678000000, time.UTC)
	assert.WithinDuration(t, ts, unixToTime(timeToUnix(ts)), time.Microsecond)
	assert.Nil(t, optionalUnix(time.Time{}))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordEvent(presence.Event{TrackID: 1, EpisodeID: "a", Kind: presence.KindArrival, Time: base}))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (latest 2, dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"to", "1"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"to"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"to", "x"}, path, &out))

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Usage: presence migrate")
}
