// Package config provides configuration management for the sparx server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/stusseligmini/FionaSparx-sub000/internal/notify"
	"github.com/stusseligmini/FionaSparx-sub000/internal/publish"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/duration"
	"gopkg.in/yaml.v3"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// Config represents the complete server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Webhooks     WebhookConfig      `yaml:"webhooks"`
	Timing       TimingConfig       `yaml:"timing"`
	Automation   AutomationConfig   `yaml:"automation"`
	Notify       NotifyConfig       `yaml:"notify"`
	Storage      StorageConfig      `yaml:"storage"`
	API          APIConfig          `yaml:"api"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// OrchestratorConfig contains workflow orchestrator settings.
type OrchestratorConfig struct {
	PollInterval    Duration            `yaml:"poll_interval"`
	Workers         int                 `yaml:"workers"`
	QueueSize       int                 `yaml:"queue_size"`
	FreshnessWindow Duration            `yaml:"freshness_window"`
	Retention       Duration            `yaml:"retention"`
	StatusHistory   int                 `yaml:"status_history"`
	Retry           RetryConfig         `yaml:"retry"`
	Cadence         map[string]Duration `yaml:"cadence"`
}

// RetryConfig is the exponential backoff applied between attempts.
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// DefaultWebhookToken is the shipped webhook bearer token. It must be overridden in production.
const DefaultWebhookToken = "default_token"

// WebhookConfig contains event ingress settings.
type WebhookConfig struct {
	Token            string   `yaml:"token"`
	SignatureHeader  string   `yaml:"signature_header"`
	DefaultRateLimit int      `yaml:"default_rate_limit"`
	RateWindow       Duration `yaml:"rate_window"`
	GrowthThreshold  float64  `yaml:"growth_threshold"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
	// NominalReach turns interaction counts into a rate when an update has no views.
	NominalReach       int    `yaml:"nominal_reach"`
	DefaultContentType string `yaml:"default_content_type"`
	// Secrets maps endpoint ids to HMAC secrets.
	Secrets map[string]string `yaml:"secrets"`
}

// TimingConfig contains timing engine settings.
type TimingConfig struct {
	MinSamples       int     `yaml:"min_samples"`
	PeakWindow       int     `yaml:"peak_window"`
	PeakTriggerRate  float64 `yaml:"peak_trigger_rate"`
	PeakMeanRate     float64 `yaml:"peak_mean_rate"`
	PeakMinSamples   int     `yaml:"peak_min_samples"`
	MinuteJitter     bool    `yaml:"minute_jitter"`
	HistoryRetention int     `yaml:"history_retention_days"`
}

// AutomationConfig contains facade settings.
type AutomationConfig struct {
	GenerationWorkers int           `yaml:"generation_workers"`
	Platforms         []string      `yaml:"platforms"`
	ItemsPerRun       int           `yaml:"items_per_run"`
	Publish           PublishConfig `yaml:"publish"`
}

// PublishConfig maps platforms to publishing endpoints. Without endpoints
// content is only logged.
type PublishConfig struct {
	Endpoints        map[string]publish.Endpoint `yaml:"endpoints"`
	Timeout          Duration                    `yaml:"timeout"`
	FailureThreshold int                         `yaml:"failure_threshold"`
	OpenTimeout      Duration                    `yaml:"open_timeout"`
}

// NotifyConfig lists the channels crisis alerts are forwarded to.
type NotifyConfig struct {
	Channels []notify.Channel `yaml:"channels"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Engine  string `yaml:"engine"` // badger or memory
	DataDir string `yaml:"data_dir"`
}

// APIConfig contains settings for the /api/v1 surface.
type APIConfig struct {
	Token             string   `yaml:"token"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Address:         "0.0.0.0:8080",
				ReadTimeout:     Duration(30 * time.Second),
				WriteTimeout:    Duration(30 * time.Second),
				ShutdownTimeout: Duration(30 * time.Second),
			},
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:    Duration(10 * time.Second),
			Workers:         4,
			QueueSize:       256,
			FreshnessWindow: Duration(time.Hour),
			Retention:       Duration(24 * time.Hour),
			StatusHistory:   10,
			Retry: RetryConfig{
				InitialInterval: Duration(time.Second),
				MaxInterval:     Duration(time.Minute),
				Multiplier:      2.0,
			},
		},
		Webhooks: WebhookConfig{
			Token:              DefaultWebhookToken,
			SignatureHeader:    "X-Signature",
			DefaultRateLimit:   100,
			RateWindow:         Duration(time.Minute),
			GrowthThreshold:    0.1,
			MaxBodyBytes:       1 << 20,
			NominalReach:       1000,
			DefaultContentType: "lifestyle",
		},
		Timing: TimingConfig{
			MinSamples:       5,
			PeakWindow:       100,
			PeakTriggerRate:  0.15,
			PeakMeanRate:     0.12,
			PeakMinSamples:   3,
			MinuteJitter:     true,
			HistoryRetention: 90,
		},
		Automation: AutomationConfig{
			GenerationWorkers: 2,
			Platforms:         []string{"fanvue", "loyalfans", "instagram"},
			ItemsPerRun:       3,
			Publish: PublishConfig{
				Timeout:          Duration(30 * time.Second),
				FailureThreshold: 5,
				OpenTimeout:      Duration(time.Minute),
			},
		},
		Storage: StorageConfig{
			Engine:  "badger",
			DataDir: "./data",
		},
		API: APIConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "sparx",
			Endpoint:    "localhost:4318",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. An empty path yields the defaults.
// A .env file in the working directory, when present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies SPARX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPARX_HTTP_ADDRESS"); v != "" {
		c.Server.HTTP.Address = v
	}
	if v := os.Getenv("SPARX_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("SPARX_STORAGE_ENGINE"); v != "" {
		c.Storage.Engine = v
	}
	if v := os.Getenv("SPARX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SPARX_WEBHOOK_TOKEN"); v != "" {
		c.Webhooks.Token = v
	}
	if v := os.Getenv("SPARX_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("SPARX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Orchestrator.Workers = n
		}
	}
	if v := os.Getenv("SPARX_TRACING_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("SPARX_PLATFORMS"); v != "" {
		c.Automation.Platforms = strings.Split(v, ",")
	}
}

// Warnings lists settings that are valid but unsafe to run with.
func (c *Config) Warnings() []string {
	var out []string
	if c.Webhooks.Token == DefaultWebhookToken {
		out = append(out, "webhooks.token is the built-in default; set it or SPARX_WEBHOOK_TOKEN")
	}
	if c.API.Token == "" {
		out = append(out, "api.token is empty; /api/v1 is unauthenticated")
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTP.Address == "" {
		return errors.New("server.http.address is required")
	}
	if c.Orchestrator.PollInterval.Duration() <= 0 {
		return errors.New("orchestrator.poll_interval must be positive")
	}
	if c.Orchestrator.Workers < 1 {
		return errors.New("orchestrator.workers must be at least 1")
	}
	if c.Orchestrator.FreshnessWindow.Duration() <= 0 {
		return errors.New("orchestrator.freshness_window must be positive")
	}
	if c.Orchestrator.Retry.Multiplier < 1 {
		return errors.New("orchestrator.retry.multiplier must be >= 1")
	}
	for name := range c.Orchestrator.Cadence {
		switch strings.ToLower(name) {
		case "critical", "high", "medium", "low":
		default:
			return fmt.Errorf("orchestrator.cadence: unknown priority %q", name)
		}
	}
	if c.Webhooks.DefaultRateLimit < 1 {
		return errors.New("webhooks.default_rate_limit must be at least 1")
	}
	if c.Webhooks.NominalReach < 0 {
		return errors.New("webhooks.nominal_reach must not be negative")
	}
	if c.Webhooks.Token == "" {
		return errors.New("webhooks.token is required")
	}
	for platform, ep := range c.Automation.Publish.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("automation.publish.endpoints.%s: url is required", platform)
		}
	}
	for i, ch := range c.Notify.Channels {
		if ch.ID == "" || ch.URL == "" {
			return fmt.Errorf("notify.channels[%d]: id and url are required", i)
		}
	}
	if c.Timing.MinSamples < 1 {
		return errors.New("timing.min_samples must be at least 1")
	}
	switch c.Storage.Engine {
	case "badger":
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for the badger engine")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.engine must be badger or memory, got %q", c.Storage.Engine)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
