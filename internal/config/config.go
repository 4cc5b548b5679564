// Package config loads TramTram's global settings from a YAML (or legacy
// JSON) file and its credentials from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultOTPBaseURL      = "https://plan.muoversiatorino.it/otp/routers/mato/index"
	DefaultOTPNamespace    = "gtt"
	DefaultPollingInterval = 15
	DefaultTimezone        = "Europe/Rome"
	DefaultStopTTLMinutes  = 15
	DefaultMaxConcurrent   = 4
	DefaultPlatform        = "telegram"
	DefaultStoreDriver     = "file"
	DefaultDataDir         = "data"
	DefaultFlushCron       = "*/5 * * * *"
	DefaultStatusPort      = 9464
	DefaultNightStartHour  = 2
	DefaultNightEndHour    = 7
)

// Config is the global configuration shared by every chat.
type Config struct {
	OTPBaseURL             string       `yaml:"otp_base_url"`
	OTPNamespace           string       `yaml:"otp_namespace"`
	PollingIntervalSeconds int          `yaml:"polling_interval_seconds"`
	Timezone               string       `yaml:"timezone"`
	StopTTLMinutes         int          `yaml:"stop_ttl_minutes"`
	MaxConcurrentUsers     int          `yaml:"max_concurrent_users"`
	NameCacheTTLSeconds    int          `yaml:"name_cache_ttl_seconds"`
	Platform               string       `yaml:"platform"`
	Store                  StoreConfig  `yaml:"store"`
	FlushCron              string       `yaml:"flush_cron"`
	Status                 StatusConfig `yaml:"status"`

	// NightPause is the daily window with no updates. Nil means updates
	// run around the clock. Set from the "night_pause" key, which may be
	// an object, false, or null.
	NightPause *NightPause `yaml:"-"`
}

// NightPause is a [StartHour, EndHour) window of local hours.
type NightPause struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// StoreConfig selects where per-chat data lives.
type StoreConfig struct {
	Driver   string `yaml:"driver"`   // file, sqlite or mysql
	Path     string `yaml:"path"`     // data dir (file) or database file (sqlite)
	DSN      string `yaml:"dsn"`      // full mysql DSN; overrides host/port/database
	Host     string `yaml:"host"`     // mysql
	Port     int    `yaml:"port"`     // mysql
	Database string `yaml:"database"` // mysql
	User     string `yaml:"user"`     // mysql
}

// StatusConfig controls the HTTP status and metrics endpoint.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML (or JSON) bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	var extra struct {
		NightPause yaml.Node `yaml:"night_pause"`
	}
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	np, err := parseNightPause(&extra.NightPause)
	if err != nil {
		return nil, err
	}
	cfg.NightPause = np
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseNightPause reads the night_pause node: absent means the default
// window, a non-empty mapping sets the window, anything else disables it.
func parseNightPause(n *yaml.Node) (*NightPause, error) {
	if n.Kind == 0 {
		return &NightPause{StartHour: DefaultNightStartHour, EndHour: DefaultNightEndHour}, nil
	}
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		return nil, nil
	}
	var raw struct {
		StartHour *int `yaml:"start_hour"`
		EndHour   *int `yaml:"end_hour"`
	}
	if err := n.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: night_pause: %w", err)
	}
	np := &NightPause{StartHour: DefaultNightStartHour, EndHour: DefaultNightEndHour}
	if raw.StartHour != nil {
		np.StartHour = *raw.StartHour
	}
	if raw.EndHour != nil {
		np.EndHour = *raw.EndHour
	}
	return np, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	c.OTPBaseURL = strings.TrimRight(c.OTPBaseURL, "/")
	if c.OTPBaseURL == "" {
		c.OTPBaseURL = DefaultOTPBaseURL
	}
	if c.OTPNamespace == "" {
		c.OTPNamespace = DefaultOTPNamespace
	}
	if c.PollingIntervalSeconds == 0 {
		c.PollingIntervalSeconds = DefaultPollingInterval
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.StopTTLMinutes == 0 {
		c.StopTTLMinutes = DefaultStopTTLMinutes
	}
	if c.MaxConcurrentUsers == 0 {
		c.MaxConcurrentUsers = DefaultMaxConcurrent
	}
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	c.Platform = strings.ToLower(c.Platform)
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "file":
			c.Store.Path = DefaultDataDir
		case "sqlite":
			c.Store.Path = DefaultDataDir + "/tramtram.db"
		}
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.Database == "" {
			c.Store.Database = "tramtram"
		}
	}
	if c.FlushCron == "" {
		c.FlushCron = DefaultFlushCron
	}
	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}
}

// validate checks that all fields are usable.
func (c *Config) validate() error {
	var errs []string
	if c.PollingIntervalSeconds < 0 {
		errs = append(errs, "polling_interval_seconds must be positive")
	}
	if c.StopTTLMinutes < 0 {
		errs = append(errs, "stop_ttl_minutes must be positive")
	}
	if c.MaxConcurrentUsers < 0 {
		errs = append(errs, "max_concurrent_users must be positive")
	}
	if c.NameCacheTTLSeconds < 0 {
		errs = append(errs, "name_cache_ttl_seconds must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	switch c.Platform {
	case "telegram", "discord", "slack":
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not one of telegram, discord, slack", c.Platform))
	}
	switch c.Store.Driver {
	case "file", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of file, sqlite, mysql", c.Store.Driver))
	}
	if np := c.NightPause; np != nil {
		if np.StartHour < 0 || np.StartHour > 23 {
			errs = append(errs, "night_pause.start_hour must be 0-23")
		}
		if np.EndHour < 0 || np.EndHour > 24 {
			errs = append(errs, "night_pause.end_hour must be 0-24")
		}
	}
	if _, err := cron.ParseStandard(c.FlushCron); err != nil {
		errs = append(errs, fmt.Sprintf("flush_cron %q: %v", c.FlushCron, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollInterval is the delay between reconciliation cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollingIntervalSeconds) * time.Second
}

// StopTTL is how long a live-stop view stays up.
func (c *Config) StopTTL() time.Duration {
	return time.Duration(c.StopTTLMinutes) * time.Minute
}

// NameCacheTTL is how long stop names are cached; zero disables caching.
func (c *Config) NameCacheTTL() time.Duration {
	return time.Duration(c.NameCacheTTLSeconds) * time.Second
}

// Location returns the configured timezone. validate has already checked
// that it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
