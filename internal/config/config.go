package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

type Config struct {
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Detection DetectionConfig
	Capture   CaptureConfig
	Media     MediaConfig
	Roster    RosterConfig
	Notify    NotifyConfig
	Web       WebConfig
}

type EmbeddingConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // per request, defaults to 30s
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// DetectionConfig is loaded from the embedded presets.yaml.
type DetectionConfig struct {
	Presets              map[string]PresetConfig `yaml:"presets"`
	Fallback             TierConfig              `yaml:"fallback"`
	DefaultPreset        string                  `yaml:"default_preset"`
	DisplayMinConfidence float64                 `yaml:"display_min_confidence"`
	AcceptanceFloor      float64                 `yaml:"acceptance_floor"`
	ProcessingIntervalMS int                     `yaml:"processing_interval_ms"`
}

type TierConfig struct {
	InputSize      int     `yaml:"input_size"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

type PresetConfig struct {
	TierConfig `yaml:",inline"`
	Tolerance  float64 `yaml:"tolerance"`
}

// ProcessingInterval returns the live camera tick period.
func (c *DetectionConfig) ProcessingInterval() time.Duration {
	return time.Duration(c.ProcessingIntervalMS) * time.Millisecond
}

type CaptureConfig struct {
	RTSPURL    string
	Interval   time.Duration // RTSP scan interval, never below 200ms
	FrameSkip  int           // process every (FrameSkip+1)-th frame
	StartAfter *time.Time    // frames captured earlier are not marked
	Preset     string
}

type MediaConfig struct {
	FrameInterval time.Duration // video sampling cadence
	FrameRate     float64       // frames per second pushed to the embedding server, 0 = unlimited
}

type RosterConfig struct {
	CacheTTL time.Duration
}

type NotifyConfig struct {
	URLs    []string // shoutrrr service URLs, empty disables notifications
	Timeout time.Duration
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins besides localhost
}

// MinCaptureInterval is the lowest accepted RTSP scan interval.
const MinCaptureInterval = 200 * time.Millisecond

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is like envInt but accepts zero.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("90s", "1m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envTime parses an RFC 3339 timestamp or a naive "2006-01-02T15:04:05" local time.
func envTime(key string) *time.Time {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		return &t
	}
	return nil
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadDetection parses the embedded detection presets.
func LoadDetection() DetectionConfig {
	var det DetectionConfig
	if err := yaml.Unmarshal(presetsYAML, &det); err != nil {
		// Embedded file, so this only fails on a broken build.
		panic("failed to unmarshal embedded presets.yaml: " + err.Error())
	}
	return det
}

func Load() *Config {
	det := LoadDetection()
	if p := os.Getenv("ATTENDANCE_PRESET"); p != "" {
		if _, ok := det.Presets[p]; ok {
			det.DefaultPreset = p
		}
	}

	interval := time.Duration(envInt("RTSP_SCAN_INTERVAL_MS", 2000)) * time.Millisecond
	if interval < MinCaptureInterval {
		interval = MinCaptureInterval
	}

	host := os.Getenv("WEB_HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	return &Config{
		Embedding: EmbeddingConfig{
			URL:     os.Getenv("EMBEDDING_URL"),
			Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Detection: det,
		Capture: CaptureConfig{
			RTSPURL:    os.Getenv("RTSP_URL"),
			Interval:   interval,
			FrameSkip:  envNonNegInt("RTSP_FRAME_SKIP", 0),
			StartAfter: envTime("ATTENDANCE_START_AFTER"),
			Preset:     det.DefaultPreset,
		},
		Media: MediaConfig{
			FrameInterval: envDuration("MEDIA_FRAME_INTERVAL", time.Second),
			FrameRate:     envFloat("MEDIA_FRAME_RATE_LIMIT", 0),
		},
		Roster: RosterConfig{
			CacheTTL: envDuration("ROSTER_CACHE_TTL", time.Minute),
		},
		Notify: NotifyConfig{
			URLs:    envList("NOTIFY_URLS"),
			Timeout: envDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Web: WebConfig{
			Host:           host,
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}
