package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

// Config is the full server configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Cache     CacheConfig     `koanf:"cache"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Media     MediaConfig     `koanf:"media"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Path         string        `koanf:"path"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// RedisConfig is optional; an empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr string `koanf:"addr"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend        string        `koanf:"backend"`
	WaitTimeout    time.Duration `koanf:"wait_timeout"`
	ComputeTimeout time.Duration `koanf:"compute_timeout"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	LiveTTL        time.Duration `koanf:"live_ttl"`
	CatalogTTL     time.Duration `koanf:"catalog_ttl"`
	SearchTTL      time.Duration `koanf:"search_ttl"`
}

type CatalogConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
}

// MediaConfig configures the S3-compatible avatar bucket. An empty Bucket
// disables uploads.
type MediaConfig struct {
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	PublicURL string `koanf:"public_url"`
	Folder    string `koanf:"folder"`
}

type RateLimitConfig struct {
	Disabled        bool          `koanf:"disabled"`
	Window          time.Duration `koanf:"window"`
	StrictRequests  int           `koanf:"strict_requests"`
	LenientRequests int           `koanf:"lenient_requests"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP gRPC collector address; empty exports traces to stdout only.
	Endpoint       string `koanf:"endpoint"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Disabled       bool   `koanf:"disabled"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":3001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxUploadBytes:  8 << 20,
		},
		Database: DatabaseConfig{
			Path:         "./otaku.db",
			QueryTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Backend:        "memory",
			WaitTimeout:    10 * time.Second,
			ComputeTimeout: 10 * time.Second,
			SweepInterval:  5 * time.Minute,
			LiveTTL:        time.Hour,
			CatalogTTL:     24 * time.Hour,
			SearchTTL:      6 * time.Hour,
		},
		Catalog: CatalogConfig{
			BaseURL:           "https://api.jikan.moe/v4",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 3,
			Burst:             3,
		},
		Media: MediaConfig{
			Region: "us-east-1",
			Folder: "api/otakulist/users",
		},
		RateLimit: RateLimitConfig{
			Window:          time.Minute,
			StrictRequests:  10,
			LenientRequests: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "otaku-list",
			ServiceVersion: "v0.1.0",
		},
	}
}

// envMappings maps recognised environment variables to koanf paths.
var envMappings = map[string]string{
	"http_addr":             "http.addr",
	"http_read_timeout":     "http.read_timeout",
	"http_write_timeout":    "http.write_timeout",
	"http_shutdown_timeout": "http.shutdown_timeout",
	"http_max_upload_bytes": "http.max_upload_bytes",

	"db_path":          "database.path",
	"db_query_timeout": "database.query_timeout",

	"redis_connstring": "redis.addr",

	"cache_backend":         "cache.backend",
	"cache_wait_timeout":    "cache.wait_timeout",
	"cache_compute_timeout": "cache.compute_timeout",
	"cache_sweep_interval":  "cache.sweep_interval",
	"cache_live_ttl":        "cache.live_ttl",
	"cache_catalog_ttl":     "cache.catalog_ttl",
	"cache_search_ttl":      "cache.search_ttl",

	"jikan_base_url": "catalog.base_url",
	"jikan_timeout":  "catalog.timeout",
	"jikan_rps":      "catalog.requests_per_second",
	"jikan_burst":    "catalog.burst",

	"s3_bucket":     "media.bucket",
	"s3_region":     "media.region",
	"s3_endpoint":   "media.endpoint",
	"s3_access_key": "media.access_key",
	"s3_secret_key": "media.secret_key",
	"s3_public_url": "media.public_url",
	"s3_folder":     "media.folder",

	"ratelimit_disabled":         "rate_limit.disabled",
	"ratelimit_window":           "rate_limit.window",
	"ratelimit_strict_requests":  "rate_limit.strict_requests",
	"ratelimit_lenient_requests": "rate_limit.lenient_requests",

	"log_level": "log.level",

	"otel_endpoint":        "telemetry.endpoint",
	"otel_service_name":    "telemetry.service_name",
	"otel_service_version": "telemetry.service_version",
	"otel_disabled":        "telemetry.disabled",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load layers defaults, the optional YAML file and environment variables, in
// increasing order of priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	positive := map[string]time.Duration{
		"database.query_timeout": c.Database.QueryTimeout,
		"cache.wait_timeout":     c.Cache.WaitTimeout,
		"cache.compute_timeout":  c.Cache.ComputeTimeout,
		"cache.live_ttl":         c.Cache.LiveTTL,
		"cache.catalog_ttl":      c.Cache.CatalogTTL,
		"cache.search_ttl":       c.Cache.SearchTTL,
		"catalog.timeout":        c.Catalog.Timeout,
		"rate_limit.window":      c.RateLimit.Window,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.backend redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}

	if c.Catalog.BaseURL == "" {
		errs = append(errs, errors.New("catalog.base_url is required"))
	}
	if c.Catalog.RequestsPerSecond <= 0 || c.Catalog.Burst <= 0 {
		errs = append(errs, errors.New("catalog.requests_per_second and catalog.burst must be positive"))
	}

	return errors.Join(errs...)
}
