package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/capture"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/db"
	"github.com/banshee-data/presence.report/internal/presence"
	"github.com/banshee-data/presence.report/internal/sink"
)

func writeConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "config.yaml", *configPath)
	assert.Equal(t, ":8080", *listen)
	assert.False(t, *synthetic)
	assert.False(t, *trace)
	assert.Equal(t, 15.0, *syntheticFPS)
}

func TestBuildSinks(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "camera_source: \"0\"\n"+
		"event_log: "+filepath.Join(dir, "events.csv")+"\n"+
		"episode_log: "+filepath.Join(dir, "episodes.csv")+"\n")

	database, err := db.NewDB(filepath.Join(dir, "presence.db"))
	require.NoError(t, err)
	defer database.Close()

	hub := sink.NewBroadcast(4)
	sub := hub.Subscribe()

	sinks, err := buildSinks(cfg, database, hub)
	require.NoError(t, err)
	assert.Len(t, sinks, 4)

	d := 2 * time.Second
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.Local)
	ev := presence.Event{
		TrackID: 3, EpisodeID: "ep", Kind: presence.KindDeparture, Time: now,
		Duration: &d, FirstArrival: now.Add(-5 * time.Second), LastSeen: now.Add(-3 * time.Second),
	}
	require.NoError(t, sinks.Write(ev))
	require.NoError(t, sinks.Close())

	got := <-sub.C
	assert.Equal(t, int64(3), got.TrackID)

	events, err := os.ReadFile(filepath.Join(dir, "events.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(events), "3,departure,,2025-09-01 08:00:00,2.00s")

	episodes, err := os.ReadFile(filepath.Join(dir, "episodes.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(episodes), "id,first_arrival,last_departure,total_duration\n"))

	records, err := database.Events(10, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestBuildSinks_KafkaUnavailable(t *testing.T) {
	if sink.KafkaAvailable {
		t.Skip("built with kafka support")
	}
	cfg := writeConfig(t, "camera_source: \"0\"\nevent_log: \"\"\nkafka_brokers: localhost:9092\n")
	_, err := buildSinks(cfg, nil, sink.NewBroadcast(1))
	assert.ErrorIs(t, err, sink.ErrKafkaUnavailable)
}

func TestBuildDetector(t *testing.T) {
	cfg := writeConfig(t, "camera_source: \"0\"\n")
	_, _, err := buildDetector(cfg, "")
	assert.Error(t, err)

	fixture := filepath.Join(t.TempDir(), "fixture.jsonl")
	require.NoError(t, os.WriteFile(fixture, []byte(`[{"track_id":1,"class":"person","confidence":0.9,"bbox":{"x1":0,"y1":0,"x2":4,"y2":4}}]`+"\n"), 0o644))
	det, closeFn, err := buildDetector(cfg, fixture)
	require.NoError(t, err)
	defer closeFn()

	dets, err := det.Detect(context.Background(), capture.Frame{})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "person", dets[0].Class)

	grpcCfg := writeConfig(t, "camera_source: \"0\"\ndetector_addr: localhost:50051\n")
	g, closeGRPC, err := buildDetector(grpcCfg, fixture)
	require.NoError(t, err, "client creation does not dial")
	assert.NotNil(t, g)
	closeGRPC()
}
