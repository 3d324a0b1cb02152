// Package config loads engine configuration from YAML with environment
// variable overrides. Secrets always come from the environment, never the
// YAML file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Brevo      BrevoConfig      `yaml:"brevo"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Ingestor   IngestorConfig   `yaml:"ingestor"`
	Matcher    MatcherConfig    `yaml:"matcher"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection. An empty URL disables
// the daily send cap and falls back to PG advisory locks for sweeps.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BrevoConfig holds the email provider credentials
type BrevoConfig struct {
	APIKey         string `yaml:"api_key"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the provider request timeout as a duration
func (c BrevoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatcherConfig holds dispatch loop tuning
type DispatcherConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	BatchSize          int `yaml:"batch_size"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
}

func (c DispatcherConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c DispatcherConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c DispatcherConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// IngestorConfig holds webhook processing settings
type IngestorConfig struct {
	SoftBounceLimit int `yaml:"soft_bounce_limit"`
}

// MatcherConfig holds auto-enrollment sweep settings
type MatcherConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchPerSweep   int `yaml:"batch_per_sweep"`
}

func (c MatcherConfig) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Brevo.TimeoutSeconds == 0 {
		cfg.Brevo.TimeoutSeconds = 30
	}
	if cfg.Dispatcher.IntervalSeconds == 0 {
		cfg.Dispatcher.IntervalSeconds = 30
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 100
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 30
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = 3
	}
	if cfg.Dispatcher.BackoffBaseSeconds == 0 {
		cfg.Dispatcher.BackoffBaseSeconds = 60
	}
	if cfg.Dispatcher.BackoffCapSeconds == 0 {
		cfg.Dispatcher.BackoffCapSeconds = 3600
	}
	if cfg.Ingestor.SoftBounceLimit == 0 {
		cfg.Ingestor.SoftBounceLimit = 3
	}
	if cfg.Matcher.IntervalSeconds == 0 {
		cfg.Matcher.IntervalSeconds = 300
	}
	if cfg.Matcher.BatchPerSweep == 0 {
		cfg.Matcher.BatchPerSweep = 500
	}
}

// LoadFromEnv loads configuration from a YAML file (when present) and then
// overrides with environment variables. A .env file is honored if it
// exists.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}
	if cfg == nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if key := os.Getenv("BREVO_API_KEY"); key != "" {
		cfg.Brevo.APIKey = key
	}
	if from := os.Getenv("BREVO_FROM_EMAIL"); from != "" {
		cfg.Brevo.FromEmail = from
	}
	if name := os.Getenv("BREVO_FROM_NAME"); name != "" {
		cfg.Brevo.FromName = name
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if limit := os.Getenv("SOFT_BOUNCE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Ingestor.SoftBounceLimit = n
		}
	}

	return cfg, nil
}
