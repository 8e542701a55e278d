// Package config loads and validates the GrowRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/growrelay/internal/model"
)

// State backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Defaults applied by validate when a field is unset.
const (
	DefaultHatchURL       = "https://data.hatchbaby.com"
	DefaultCalendarSuffix = " - Baby Tracker"
	DefaultInterval       = 15 * time.Minute
	DefaultCallTimeout    = 30 * time.Second
	DefaultDataTTL        = 15 * time.Minute
	DefaultLoginTTL       = 50 * time.Minute
	DefaultCacheTimeout   = 3 * time.Second
	DefaultLogMaxSizeMB   = 10
	DefaultLogMaxBackups  = 3
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	Hatch  HatchConfig  `yaml:"hatch"`
	Google GoogleConfig `yaml:"google"`
	Sync   SyncConfig   `yaml:"sync"`
	State  StateConfig  `yaml:"state"`
	Cache  CacheConfig  `yaml:"cache"`
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// HatchConfig holds the Hatch account used to read records.
type HatchConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// BaseURL defaults to https://data.hatchbaby.com.
	BaseURL string `yaml:"base_url,omitempty"`
}

// GoogleConfig holds the calendar service account and sharing settings.
type GoogleConfig struct {
	// ServiceAccountFile is the path to a service-account JSON key.
	ServiceAccountFile string `yaml:"service_account_file"`

	// ShareEmail is granted writer access to every calendar the service
	// account creates. Optional.
	ShareEmail string `yaml:"share_email,omitempty"`

	// CalendarSuffix is appended to the subject name to form the calendar
	// title. Defaults to " - Baby Tracker".
	CalendarSuffix string `yaml:"calendar_suffix,omitempty"`
}

// SyncConfig controls when cycles run and how long calls may take.
type SyncConfig struct {
	// Interval between cycles. Minimum 1m, maximum 24h. Defaults to 15m.
	Interval time.Duration `yaml:"interval"`

	// Schedule is an optional cron expression ("*/15 * * * *", "@hourly").
	// When set it takes precedence over Interval.
	Schedule string `yaml:"schedule,omitempty"`

	// CallTimeout bounds each network call. Defaults to 30s.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// CycleTimeout bounds a whole cycle. Zero disables the bound.
	CycleTimeout time.Duration `yaml:"cycle_timeout,omitempty"`
}

// StateConfig selects where the set of synced record ids lives.
type StateConfig struct {
	// Backend is "sqlite" (default) or "json".
	Backend string `yaml:"backend"`

	// Path defaults to ~/.local/share/growrelay/state.db (or state.json).
	Path string `yaml:"path,omitempty"`
}

// CacheConfig configures the read-through cache in front of Hatch.
type CacheConfig struct {
	// RedisURL, e.g. "redis://localhost:6379/0". Empty uses an in-process cache.
	RedisURL string `yaml:"redis_url,omitempty"`

	DataTTL   time.Duration `yaml:"data_ttl"`
	LoginTTL  time.Duration `yaml:"login_ttl"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// HTTPConfig configures the optional HTTP surface.
type HTTPConfig struct {
	// Addr to listen on, e.g. ":8080". Empty disables the server in daemon mode.
	Addr string `yaml:"addr,omitempty"`
}

// LogConfig controls log output.
type LogConfig struct {
	// File, when set, receives logs with size-based rotation instead of stderr.
	File string `yaml:"file,omitempty"`

	// Format is "text" (default) or "json".
	Format     string `yaml:"format"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "growrelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Credentials returns the Hatch login as a model value.
func (c *Config) Credentials() model.Credentials {
	return model.Credentials{Email: c.Hatch.Email, Password: c.Hatch.Password}
}

// CredentialsConfigured reports whether both the Hatch login and the Google
// service-account file are set. It does not check that they work.
func (c *Config) CredentialsConfigured() bool {
	return c.Credentials().Complete() && c.Google.ServiceAccountFile != ""
}

// DefaultPath returns the default config file path: ~/.config/growrelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "growrelay", "config.yaml"), nil
}

// Load reads the configuration file at path, overlays environment variables
// (see [ApplyEnv]) and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	return finish(&cfg)
}

// FromEnv builds a configuration from defaults and environment variables
// only, for deployments without a config file.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// validate fills defaults and checks that every set field is well-formed.
// Missing credentials are not an error here: a sync cycle reports them.
func (c *Config) validate() error {
	if c.Hatch.BaseURL == "" {
		c.Hatch.BaseURL = DefaultHatchURL
	}
	u, err := url.ParseRequestURI(c.Hatch.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("hatch.base_url %q must be a valid http or https URL", c.Hatch.BaseURL)
	}

	if c.Google.CalendarSuffix == "" {
		c.Google.CalendarSuffix = DefaultCalendarSuffix
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultInterval
	}
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval %v is too short (minimum 1m)", c.Sync.Interval)
	}
	if c.Sync.Interval > 24*time.Hour {
		return fmt.Errorf("sync.interval %v is too long (maximum 24h)", c.Sync.Interval)
	}
	if c.Sync.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("sync.schedule %q: %w", c.Sync.Schedule, err)
		}
	}
	if c.Sync.CallTimeout == 0 {
		c.Sync.CallTimeout = DefaultCallTimeout
	}
	if c.Sync.CallTimeout < 0 || c.Sync.CycleTimeout < 0 {
		return fmt.Errorf("sync timeouts must not be negative")
	}

	switch c.State.Backend {
	case "":
		c.State.Backend = BackendSQLite
	case BackendSQLite, BackendJSON:
	default:
		return fmt.Errorf("state.backend %q must be %q or %q", c.State.Backend, BackendSQLite, BackendJSON)
	}

	if c.Cache.RedisURL != "" {
		u, err := url.Parse(c.Cache.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("cache.redis_url %q must be a redis:// or rediss:// URL", c.Cache.RedisURL)
		}
	}
	if c.Cache.DataTTL == 0 {
		c.Cache.DataTTL = DefaultDataTTL
	}
	if c.Cache.LoginTTL == 0 {
		c.Cache.LoginTTL = DefaultLoginTTL
	}
	if c.Cache.OpTimeout == 0 {
		c.Cache.OpTimeout = DefaultCacheTimeout
	}
	if c.Cache.DataTTL < 0 || c.Cache.LoginTTL < 0 || c.Cache.OpTimeout < 0 {
		return fmt.Errorf("cache durations must not be negative")
	}

	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be \"text\" or \"json\"", c.Log.Format)
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
