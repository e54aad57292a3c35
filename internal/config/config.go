// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/clubpulse/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Reporting     ReportingConfig     `yaml:"reporting"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Lookup        LookupCacheConfig   `yaml:"lookup"`
	Session       SessionConfig       `yaml:"session"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	HandlerTimeout  time.Duration   `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	// DevMode relaxes the security headers (no HSTS, no SSL redirect).
	DevMode bool `yaml:"dev_mode"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig describes the inbound per-subject request limit.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// IdentityConfig describes JWT validation settings.
type IdentityConfig struct {
	// Disabled skips token validation; every request runs as AnonymousSubject.
	Disabled         bool              `yaml:"disabled"`
	AnonymousSubject string            `yaml:"anonymous_subject"`
	Issuer           string            `yaml:"issuer"`
	Audience         string            `yaml:"audience"`
	SecretEnv        string            `yaml:"secret_env"`
	Algorithms       []string          `yaml:"algorithms"`
	ClaimPaths       map[string]string `yaml:"claim_paths"`
}

// ReportingConfig describes the remote reporting API.
type ReportingConfig struct {
	BaseURL          string               `yaml:"base_url"`
	Timeout          time.Duration        `yaml:"timeout"`
	TokenEnv         string               `yaml:"token_env"`
	AuthScheme       string               `yaml:"auth_scheme"`
	ForwardUserToken bool                 `yaml:"forward_user_token"`
	SpecFile         string               `yaml:"spec_file"`
	MaxResponseBytes int64                `yaml:"max_response_bytes"`
	Retry            RetryConfig          `yaml:"retry"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit        OutboundLimitConfig  `yaml:"rate_limit"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings for idempotent reporting calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// OutboundLimitConfig caps the request rate towards the reporting API.
// A zero RequestsPerSecond disables the limiter.
type OutboundLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DashboardConfig describes dashboard behaviour.
type DashboardConfig struct {
	PageSize        int             `yaml:"page_size"`
	DefaultRange    model.DateRange `yaml:"default_range"`
	DefaultSection  model.Section   `yaml:"default_section"`
	Timezone        string          `yaml:"timezone"`
	ConflictRetries int             `yaml:"conflict_retries"`
}

// Location resolves the configured time zone.
func (d DashboardConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(d.Timezone)
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LookupCacheConfig describes lookup cache settings.
type LookupCacheConfig struct {
	Cache CacheConfig      `yaml:"cache"`
	Redis RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig describes the optional shared lookup cache.
type RedisCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// SessionConfig describes dashboard session persistence.
type SessionConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	AddrEnv         string        `yaml:"addr_env"`
	DB              int           `yaml:"db"`
	TTL             time.Duration `yaml:"ttl"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  55 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Requests: 120,
				Window:   time.Minute,
			},
		},
		Identity: IdentityConfig{
			AnonymousSubject: "anonymous",
			SecretEnv:        "CLUBPULSE_JWT_SECRET",
			Algorithms:       []string{"HS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Reporting: ReportingConfig{
			Timeout:          30 * time.Second,
			TokenEnv:         "CLUBPULSE_REPORTING_TOKEN",
			AuthScheme:       "Bearer",
			ForwardUserToken: true,
			MaxResponseBytes: 10 << 20,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:   5,
				SuccessThreshold:   2,
				Timeout:            30 * time.Second,
				ErrorRateThreshold: 0.5,
				ErrorRateWindow:    time.Minute,
			},
			RateLimit: OutboundLimitConfig{
				RequestsPerSecond: 50,
				Burst:             20,
			},
		},
		Dashboard: DashboardConfig{
			PageSize:        10,
			DefaultRange:    model.Last30Days,
			DefaultSection:  model.SectionSales,
			Timezone:        "UTC",
			ConflictRetries: 3,
		},
		Lookup: LookupCacheConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 1000,
			},
			Redis: RedisCacheConfig{
				AddrEnv: "CLUBPULSE_REDIS_ADDR",
				TTL:     10 * time.Minute,
			},
		},
		Session: SessionConfig{
			Driver:          "memory",
			DSNEnv:          "CLUBPULSE_SESSION_DSN",
			AddrEnv:         "CLUBPULSE_REDIS_ADDR",
			TTL:             12 * time.Hour,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Reporting.BaseURL == "" {
		errs = append(errs, "reporting.base_url is required")
	}
	if !c.Identity.Disabled && c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required unless identity.disabled is set")
	}
	if c.Dashboard.PageSize < 1 {
		errs = append(errs, "dashboard.page_size must be positive")
	}
	if !c.Dashboard.DefaultRange.Valid() || c.Dashboard.DefaultRange == model.CustomRange {
		errs = append(errs, fmt.Sprintf("dashboard.default_range %q is not a relative range", c.Dashboard.DefaultRange))
	}
	if !c.Dashboard.DefaultSection.Valid() {
		errs = append(errs, fmt.Sprintf("dashboard.default_section %q is unknown", c.Dashboard.DefaultSection))
	}
	if _, err := c.Dashboard.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("dashboard.timezone: %v", err))
	}
	switch c.Session.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q is unsupported (memory, redis, postgres)", c.Session.Driver))
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is unsupported (json, console)", c.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CLUBPULSE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLUBPULSE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CLUBPULSE_REPORTING_BASE_URL"); v != "" {
		cfg.Reporting.BaseURL = v
	}
	if v := os.Getenv("CLUBPULSE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("CLUBPULSE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("CLUBPULSE_IDENTITY_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Identity.Disabled = b
		}
	}
	if v := os.Getenv("CLUBPULSE_DASHBOARD_TIMEZONE"); v != "" {
		cfg.Dashboard.Timezone = v
	}
	if v := os.Getenv("CLUBPULSE_DASHBOARD_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dashboard.PageSize = n
		}
	}
	if v := os.Getenv("CLUBPULSE_SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("CLUBPULSE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CLUBPULSE_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
