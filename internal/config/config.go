// ABOUTME: Configuration loading and parsing for the kartbot relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the corresponding field is absent.
const (
	DefaultHTTPAddr        = "localhost:8080"
	DefaultMaxSessions     = 100
	DefaultMaxConcurrent   = 5
	DefaultMaxQueue        = 100
	DefaultIdleThreshold   = time.Hour
	DefaultReapInterval    = 15 * time.Minute
	DefaultRateLimitBurst  = 25
	DefaultRateLimitWindow = 30 * time.Second
)

// Config represents the complete kartbot relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Gate      GateConfig      `yaml:"gate"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AssistantConfig holds the upstream provider settings.
type AssistantConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	AssistantID    string `yaml:"assistant_id"`
	WelcomeMessage string `yaml:"welcome_message"`
}

// SessionsConfig bounds the in-memory session table.
type SessionsConfig struct {
	Max           int           `yaml:"max"`
	IdleThreshold time.Duration `yaml:"-"`
	ReapInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleThresholdRaw string `yaml:"idle_threshold"`
	ReapIntervalRaw  string `yaml:"reap_interval"`
}

// GateConfig bounds concurrent upstream calls and the wait queue.
type GateConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxQueue      int `yaml:"max_queue"`
}

// RateLimitConfig bounds per-IP request rates.
type RateLimitConfig struct {
	Burst  int           `yaml:"burst"`
	Window time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// StatusConfig protects the /api/status endpoint.
type StatusConfig struct {
	Key string `yaml:"key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with production defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Assistant.BaseURL == "" {
		c.Assistant.BaseURL = "https://api.openai.com/v1"
	}
	if c.Sessions.Max == 0 {
		c.Sessions.Max = DefaultMaxSessions
	}
	if c.Sessions.IdleThreshold == 0 {
		c.Sessions.IdleThreshold = DefaultIdleThreshold
	}
	if c.Sessions.ReapInterval == 0 {
		c.Sessions.ReapInterval = DefaultReapInterval
	}
	if c.Gate.MaxConcurrent == 0 {
		c.Gate.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Gate.MaxQueue == 0 {
		c.Gate.MaxQueue = DefaultMaxQueue
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant.assistant_id is required")
	}
	if c.Sessions.Max < 1 {
		return fmt.Errorf("sessions.max must be positive, got %d", c.Sessions.Max)
	}
	if c.Gate.MaxConcurrent < 1 {
		return fmt.Errorf("gate.max_concurrent must be positive, got %d", c.Gate.MaxConcurrent)
	}
	if c.Gate.MaxQueue < 0 {
		return fmt.Errorf("gate.max_queue must not be negative, got %d", c.Gate.MaxQueue)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sessions.IdleThresholdRaw != "" {
		cfg.Sessions.IdleThreshold, err = time.ParseDuration(cfg.Sessions.IdleThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_threshold %q: %w", cfg.Sessions.IdleThresholdRaw, err)
		}
	}

	if cfg.Sessions.ReapIntervalRaw != "" {
		cfg.Sessions.ReapInterval, err = time.ParseDuration(cfg.Sessions.ReapIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reap_interval %q: %w", cfg.Sessions.ReapIntervalRaw, err)
		}
	}

	if cfg.RateLimit.WindowRaw != "" {
		cfg.RateLimit.Window, err = time.ParseDuration(cfg.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit window %q: %w", cfg.RateLimit.WindowRaw, err)
		}
	}

	return nil
}
