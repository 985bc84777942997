// Package config loads the presence pipeline configuration.
//
// Files are JSON or YAML, chosen by extension. Every scalar field is a
// pointer so that omitted fields fall back to the defaults returned by the
// Get* methods; partial configs are safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/zone"
)

// ErrMissingSource is returned when no camera source is configured.
var ErrMissingSource = errors.New("camera_source is required")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Environment variables that override file values.
const (
	EnvCameraSource = "PRESENCE_CAMERA_SOURCE"
	EnvDetectorAddr = "PRESENCE_DETECTOR_ADDR"
	EnvDBPath       = "PRESENCE_DB_PATH"
)

// Config is the root configuration document.
type Config struct {
	CameraSource        *string  `json:"camera_source,omitempty" yaml:"camera_source,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
	TargetClass         *string  `json:"target_class,omitempty" yaml:"target_class,omitempty"`

	// Durations are strings like "3s" or "500ms".
	LostTimeout      *string `json:"lost_timeout,omitempty" yaml:"lost_timeout,omitempty"`
	ReconnectBackoff *string `json:"reconnect_backoff,omitempty" yaml:"reconnect_backoff,omitempty"`
	ReadRetryBackoff *string `json:"read_retry_backoff,omitempty" yaml:"read_retry_backoff,omitempty"`
	// LostTimeoutSeconds is the numeric form of lost_timeout. Set one or the other.
	LostTimeoutSeconds *float64 `json:"lost_timeout_seconds,omitempty" yaml:"lost_timeout_seconds,omitempty"`

	RelayCapacity   *int `json:"relay_capacity,omitempty" yaml:"relay_capacity,omitempty"`
	MaxReadFailures *int `json:"max_read_failures,omitempty" yaml:"max_read_failures,omitempty"`

	EmitZoneUpdates *bool `json:"emit_zone_updates,omitempty" yaml:"emit_zone_updates,omitempty"`
	FlushOnShutdown *bool `json:"flush_on_shutdown,omitempty" yaml:"flush_on_shutdown,omitempty"`

	EventLog      *string `json:"event_log,omitempty" yaml:"event_log,omitempty"`
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DetectorAddr  *string `json:"detector_addr,omitempty" yaml:"detector_addr,omitempty"`
	DetectorModel *string `json:"detector_model,omitempty" yaml:"detector_model,omitempty"`

	// EpisodeLog, when set, receives one summary row per completed visit.
	EpisodeLog   *string `json:"episode_log,omitempty" yaml:"episode_log,omitempty"`
	KafkaBrokers *string `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty"`
	KafkaTopic   *string `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`

	Zones []ZoneConfig `json:"zones,omitempty" yaml:"zones,omitempty"`
}

// ZoneConfig is one named polygon. Points are [x, y] pixel pairs.
type ZoneConfig struct {
	Name   string      `json:"name" yaml:"name"`
	Color  []int       `json:"color,omitempty" yaml:"color,omitempty"`
	Points [][]float64 `json:"points" yaml:"points"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides the camera source, detector address and database path
// from PRESENCE_* variables. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvCameraSource); ok && v != "" {
		c.CameraSource = ptrString(v)
	}
	if v, ok := lookup(EnvDetectorAddr); ok && v != "" {
		c.DetectorAddr = ptrString(v)
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.DBPath = ptrString(v)
	}
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.CameraSource == nil || strings.TrimSpace(*c.CameraSource) == "" {
		return ErrMissingSource
	}

	if c.ConfidenceThreshold != nil {
		v := *c.ConfidenceThreshold
		if math.IsNaN(v) || v < 0 || v >= 1 {
			return fmt.Errorf("confidence_threshold must be in [0, 1), got %v", v)
		}
	}
	if c.TargetClass != nil && strings.TrimSpace(*c.TargetClass) == "" {
		return errors.New("target_class must not be empty")
	}

	for name, field := range map[string]*string{
		"lost_timeout":       c.LostTimeout,
		"reconnect_backoff":  c.ReconnectBackoff,
		"read_retry_backoff": c.ReadRetryBackoff,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	if c.LostTimeoutSeconds != nil {
		v := *c.LostTimeoutSeconds
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("lost_timeout_seconds must be a non-negative number, got %v", v)
		}
		if c.LostTimeout != nil && *c.LostTimeout != "" {
			return errors.New("set only one of lost_timeout and lost_timeout_seconds")
		}
	}

	if c.RelayCapacity != nil && *c.RelayCapacity < 1 {
		return fmt.Errorf("relay_capacity must be at least 1, got %d", *c.RelayCapacity)
	}
	if c.MaxReadFailures != nil && *c.MaxReadFailures < 1 {
		return fmt.Errorf("max_read_failures must be at least 1, got %d", *c.MaxReadFailures)
	}

	if _, err := c.BuildZoneIndex(); err != nil {
		return err
	}
	return nil
}

// BuildZones converts the zone section into zone.Zone values.
func (c *Config) BuildZones() ([]zone.Zone, error) {
	zones := make([]zone.Zone, 0, len(c.Zones))
	for i, zc := range c.Zones {
		z := zone.Zone{Name: zc.Name, Color: zone.DefaultColor}
		if zc.Color != nil {
			if len(zc.Color) != 3 {
				return nil, fmt.Errorf("zone %d (%q): color must have 3 components, got %d", i, zc.Name, len(zc.Color))
			}
			for j, v := range zc.Color {
				if v < 0 || v > 255 {
					return nil, fmt.Errorf("zone %d (%q): color component %d out of range: %d", i, zc.Name, j, v)
				}
				z.Color[j] = uint8(v)
			}
		}
		for j, p := range zc.Points {
			if len(p) != 2 {
				return nil, fmt.Errorf("zone %d (%q): point %d must be [x, y]", i, zc.Name, j)
			}
			z.Polygon = append(z.Polygon, geom.Point{X: p[0], Y: p[1]})
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// BuildZoneIndex builds and validates the zone index. It returns a nil index
// when no zones are configured.
func (c *Config) BuildZoneIndex() (*zone.Index, error) {
	if len(c.Zones) == 0 {
		return nil, nil
	}
	zones, err := c.BuildZones()
	if err != nil {
		return nil, err
	}
	return zone.NewIndex(zones)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetCameraSource returns the camera device index or stream URL.
func (c *Config) GetCameraSource() string {
	if c.CameraSource == nil {
		return ""
	}
	return *c.CameraSource
}

// GetConfidenceThreshold returns the minimum detection confidence (exclusive).
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.5
	}
	return *c.ConfidenceThreshold
}

func (c *Config) GetTargetClass() string {
	if c.TargetClass == nil {
		return "person"
	}
	return *c.TargetClass
}

// GetLostTimeout returns how long a track may be unseen before departing.
func (c *Config) GetLostTimeout() time.Duration {
	if c.LostTimeoutSeconds != nil {
		return time.Duration(*c.LostTimeoutSeconds * float64(time.Second))
	}
	return parseDurationOr(c.LostTimeout, 3*time.Second)
}

func (c *Config) GetReconnectBackoff() time.Duration {
	return parseDurationOr(c.ReconnectBackoff, 5*time.Second)
}

func (c *Config) GetReadRetryBackoff() time.Duration {
	return parseDurationOr(c.ReadRetryBackoff, 500*time.Millisecond)
}

func (c *Config) GetRelayCapacity() int {
	if c.RelayCapacity == nil {
		return 5
	}
	return *c.RelayCapacity
}

func (c *Config) GetMaxReadFailures() int {
	if c.MaxReadFailures == nil {
		return 20
	}
	return *c.MaxReadFailures
}

func (c *Config) GetEmitZoneUpdates() bool {
	if c.EmitZoneUpdates == nil {
		return false
	}
	return *c.EmitZoneUpdates
}

// GetFlushOnShutdown reports whether remaining tracks depart on shutdown.
func (c *Config) GetFlushOnShutdown() bool {
	if c.FlushOnShutdown == nil {
		return true
	}
	return *c.FlushOnShutdown
}

// GetEventLog returns the CSV event log path. Empty disables the CSV log.
func (c *Config) GetEventLog() string {
	if c.EventLog == nil {
		return "csv/people_log.csv"
	}
	return *c.EventLog
}

// GetDBPath returns the SQLite path. Empty disables the event store.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "presence.db"
	}
	return *c.DBPath
}

func (c *Config) GetDetectorAddr() string {
	if c.DetectorAddr == nil {
		return ""
	}
	return *c.DetectorAddr
}

func (c *Config) GetDetectorModel() string {
	if c.DetectorModel == nil {
		return "yolo11s.pt"
	}
	return *c.DetectorModel
}

// GetEpisodeLog returns the per-visit summary CSV path; empty by default.
func (c *Config) GetEpisodeLog() string {
	if c.EpisodeLog == nil {
		return ""
	}
	return *c.EpisodeLog
}

// GetKafkaBrokers returns the bootstrap servers. Empty disables the Kafka sink.
func (c *Config) GetKafkaBrokers() string {
	if c.KafkaBrokers == nil {
		return ""
	}
	return *c.KafkaBrokers
}

func (c *Config) GetKafkaTopic() string {
	if c.KafkaTopic == nil || *c.KafkaTopic == "" {
		return "presence-events"
	}
	return *c.KafkaTopic
}
