// Package config provides configuration loading from YAML files.
package config

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v3"
)

// AppName is used for the default cache location.
const AppName = "speakd"

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Admin      AdminConfig             `yaml:"admin"`
	ElevenLabs ElevenLabsConfig        `yaml:"elevenlabs"`
	Voices     VoicesConfig            `yaml:"voices"`
	Playback   PlaybackConfig          `yaml:"playback"`
	Cache      CacheConfig             `yaml:"cache"`
	Events     EventsConfig            `yaml:"events"`
	Dashboard  DashboardConfig         `yaml:"dashboard"`
	Filters    map[string]FilterConfig `yaml:"filters"`
	Logging    LoggingConfig           `yaml:"logging"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr           string      `yaml:"addr" default:"127.0.0.1:7865" validate:"required,hostname_port"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
	Hooks          HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents control endpoint protection.
// An empty token leaves control endpoints open to local callers.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// ElevenLabsConfig represents speech synthesis API configuration.
type ElevenLabsConfig struct {
	APIKey            string `yaml:"api_key"`
	VoiceID           string `yaml:"voice_id"`
	BaseURL           string `yaml:"base_url" default:"https://api.elevenlabs.io/v1" validate:"url"`
	Model             string `yaml:"model" default:"eleven_v3" validate:"required"`
	OutputFormat      string `yaml:"output_format" default:"mp3_44100_128" validate:"required"`
	RequestsPerMinute int    `yaml:"requests_per_minute" default:"60" validate:"gte=0"`
	TimeoutSec        int    `yaml:"timeout_sec" default:"120" validate:"gte=1,lte=600"`
	MaxTextLength     int    `yaml:"max_text_length" default:"10000" validate:"gte=1"`
}

// VoicesConfig represents the voice roster configuration.
type VoicesConfig struct {
	RosterPath   string `yaml:"roster_path" default:"voices.json"`
	DisableWatch bool   `yaml:"disable_watch"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	HistorySize        int    `yaml:"history_size" default:"1000" validate:"gte=1"`
	ChunkMs            int    `yaml:"chunk_ms" default:"50" validate:"gte=10,lte=1000"`
	Player             string `yaml:"player"`
	FFmpegPath         string `yaml:"ffmpeg_path"`
	FFprobePath        string `yaml:"ffprobe_path"`
	ProbeTimeoutSec    int    `yaml:"probe_timeout_sec" default:"5" validate:"gte=1,lte=60"`
	EnvelopeTimeoutSec int    `yaml:"envelope_timeout_sec" default:"30" validate:"gte=1,lte=300"`
	TempPrefix         string `yaml:"temp_prefix" default:"speakd-"`
}

// CacheConfig represents the replay cache configuration.
type CacheConfig struct {
	Dir              string `yaml:"dir"`
	MaxAgeHours      int    `yaml:"max_age_hours" default:"24" validate:"gte=1"`
	SweepIntervalMin int    `yaml:"sweep_interval_min" default:"60" validate:"gte=1"`
	CompressionLevel int    `yaml:"compression_level" validate:"gte=0,lte=22"` // 0 disables zstd
}

// EventsConfig represents live event stream configuration.
type EventsConfig struct {
	BufferSize    int `yaml:"buffer_size" default:"256" validate:"gte=1"`
	RecentHistory int `yaml:"recent_history" default:"20" validate:"gte=0,lte=500"`
}

// DashboardConfig represents the static dashboard served at "/".
// Portrait images are read from the portraits subdirectory.
type DashboardConfig struct {
	Dir string `yaml:"dir" default:"dashboard"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config file")
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}

	if cfg.Cache.Dir == "" {
		dir, err := defaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.Cache.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() error {
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.ElevenLabs.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_VOICE_ID"); v != "" {
		c.ElevenLabs.VoiceID = v
	}
	if v := os.Getenv("SPEAK_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("SPEAK_DASHBOARD_DIR"); v != "" {
		c.Dashboard.Dir = v
	}
	if v := os.Getenv("SPEAK_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("SPEAK_PORT"); v != "" {
		host, _, err := net.SplitHostPort(c.Server.Addr)
		if err != nil {
			return errors.Wrapf(err, "invalid server addr %q", c.Server.Addr)
		}
		c.Server.Addr = net.JoinHostPort(host, v)
	}
	return nil
}

// defaultCacheDir returns the per-user cache directory for audio copies.
func defaultCacheDir() (string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dir, err := scope.CacheDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve cache directory")
	}
	return filepath.Join(dir, "audio"), nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// FilterSettings returns the settings for a filter.
func (c *Config) FilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}

// CacheMaxAge returns the age after which cached audio is swept.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}

// CacheSweepInterval returns the period between cache sweeps.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalMin) * time.Minute
}

// ProbeTimeout returns the duration probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Playback.ProbeTimeoutSec) * time.Second
}

// EnvelopeTimeout returns the envelope extraction timeout.
func (c *Config) EnvelopeTimeout() time.Duration {
	return time.Duration(c.Playback.EnvelopeTimeoutSec) * time.Second
}

// SynthesisTimeout returns the HTTP timeout for synthesis requests.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.ElevenLabs.TimeoutSec) * time.Second
}
