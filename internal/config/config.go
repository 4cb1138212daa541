package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "ttsalert/internal/log"
)

// Environment variables that override secrets from the YAML file so the
// database key does not have to live on disk.
const (
	EnvDatabaseURL = "TTSALERT_DB_URL"
	EnvDatabaseKey = "TTSALERT_DB_KEY"
)

// DatabaseConfig points at the hosted PostgREST (Supabase) project.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL    string `yaml:"url" json:"url"`
	APIKey string `yaml:"api_key" json:"-"`
	Table  string `yaml:"table" json:"table"`
}

// SpeechConfig holds the hosted function endpoints.
type SpeechConfig struct {
	// ConvertURL synthesizes one message: {text, alertStart, alertEnd} -> {url}.
	ConvertURL string `yaml:"convert_url" json:"convert_url"`
	// SchedulerURL regenerates audio for every pending event of a user.
	SchedulerURL string `yaml:"scheduler_url" json:"scheduler_url"`
	// TimeoutSeconds bounds each call.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// SchedulerConfig controls the background jobs.
type SchedulerConfig struct {
	// Dispatch is a cron spec for the local reconciliation of pending events.
	// Empty disables it.
	Dispatch string `yaml:"dispatch" json:"dispatch"`
	// LookaheadMinutes is how far ahead of its window an event is synthesized.
	LookaheadMinutes int `yaml:"lookahead_minutes" json:"lookahead_minutes"`
	// Refresh is a cron spec for calling the hosted scheduler function.
	// Empty disables it.
	Refresh string `yaml:"refresh" json:"refresh"`
	// Import is a cron spec for pulling ICS subscriptions into events.
	// Empty disables it.
	Import string `yaml:"import" json:"import"`
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which event dates and times are interpreted.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// UserID is the owner recorded on every event row.
	UserID string `yaml:"user_id" json:"user_id"`

	// DailyLimit caps how many events may share one date.
	DailyLimit int `yaml:"daily_limit" json:"daily_limit"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir stores ICS subscription caches.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// HorizonDays limits how far ahead ICS imports reach.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Speech    SpeechConfig    `yaml:"speech" json:"speech"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	ICS       []ICSConfig     `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultTable        = "events"
	defaultDailyLimit   = 3
	defaultTimeout      = 30
	defaultLookahead    = 15
	defaultDispatchCron = "* * * * *"
	defaultHorizonDays  = 14
	defaultCacheDir     = "./cache/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   "sunday",
		UserID:      "local",
		DailyLimit:  defaultDailyLimit,
		LogLevel:    "info",
		CacheDir:    defaultCacheDir,
		HorizonDays: defaultHorizonDays,
		Database: DatabaseConfig{
			Table: defaultTable,
		},
		Speech: SpeechConfig{
			TimeoutSeconds: defaultTimeout,
		},
		Scheduler: SchedulerConfig{
			Dispatch:         defaultDispatchCron,
			LookaheadMinutes: defaultLookahead,
		},
		ICS: []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "sunday"
	}
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = defaultDailyLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.Database.Table == "" {
		c.Database.Table = defaultTable
	}
	if c.Speech.TimeoutSeconds <= 0 {
		c.Speech.TimeoutSeconds = defaultTimeout
	}
	if c.Scheduler.LookaheadMinutes < 0 {
		c.Scheduler.LookaheadMinutes = 0
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// ApplyEnv overrides database settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvDatabaseKey); v != "" {
		c.Database.APIKey = v
	}
}

// Location resolves Timezone, falling back to time.Local with a warning.
// Load rejects unknown zones, so the fallback only applies to configs
// built in code.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using local time", "timezone", c.Timezone, "reason", err)
		return time.Local
	}
	return loc
}

// SpeechTimeout returns the per-call timeout for the hosted functions.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
//
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.ApplyEnv()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttsalert-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
