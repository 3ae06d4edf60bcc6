// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tabular configures the DynamoDB-shaped adapter backing sessions, jobs,
// and pipeline metadata.
type Tabular struct {
	TablePrefix    string        `mapstructure:"table_prefix"`
	Endpoint       string        `mapstructure:"endpoint"` // local DynamoDB endpoint override, optional
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// Object configures the S3-shaped adapter backing logs, reports, and
// pipeline config blobs.
type Object struct {
	BucketPrefix    string        `mapstructure:"bucket_prefix"`
	Endpoint        string        `mapstructure:"endpoint"` // MinIO/LocalStack override, optional
	ForcePathStyle  bool          `mapstructure:"force_path_style"`
	PresignTTL      time.Duration `mapstructure:"presign_ttl"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// Scheduler configures the Step-Functions-shaped execution adapter.
type Scheduler struct {
	StateMachinePrefix string        `mapstructure:"state_machine_prefix"`
	RoleARN            string        `mapstructure:"role_arn"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
}

type Observability struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Config is the resolved, immutable configuration value every package in
// this module takes as a constructor argument. Loading it from a file with
// environment-variable overrides is a convenience here, not a general CLI
// config loader.
type Config struct {
	Region         string         `mapstructure:"region"`
	Tabular        Tabular        `mapstructure:"tabular"`
	Object         Object         `mapstructure:"object"`
	Scheduler      Scheduler      `mapstructure:"scheduler"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	RateLimitRPS   float64        `mapstructure:"rate_limit_rps"`
}

func Default() *Config {
	return &Config{
		Region: "us-east-1",
		Tabular: Tabular{
			TablePrefix:    "bunsui",
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
		},
		Object: Object{
			BucketPrefix:   "bunsui",
			PresignTTL:     15 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		Scheduler: Scheduler{
			StateMachinePrefix: "bunsui",
			PollInterval:       5 * time.Second,
			MaxRetries:         3,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort: 9090,
			LogLevel:    "info",
			Tracing:     TracingConfig{Enabled: false},
		},
		RateLimitRPS: 10,
	}
}

// Load reads configuration from a YAML file with environment-variable
// overrides (BUNSUI_* prefix), falling back to Default() for anything
// unset. It is a convenience constructor; the CLI/TUI-facing config loader
// (flags, profiles, multiple sources) is an external collaborator.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("bunsui")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("region", def.Region)
	v.SetDefault("tabular.table_prefix", def.Tabular.TablePrefix)
	v.SetDefault("tabular.request_timeout", def.Tabular.RequestTimeout)
	v.SetDefault("tabular.max_retries", def.Tabular.MaxRetries)
	v.SetDefault("object.bucket_prefix", def.Object.BucketPrefix)
	v.SetDefault("object.presign_ttl", def.Object.PresignTTL)
	v.SetDefault("object.request_timeout", def.Object.RequestTimeout)
	v.SetDefault("scheduler.state_machine_prefix", def.Scheduler.StateMachinePrefix)
	v.SetDefault("scheduler.poll_interval", def.Scheduler.PollInterval)
	v.SetDefault("scheduler.max_retries", def.Scheduler.MaxRetries)
	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("rate_limit_rps", def.RateLimitRPS)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	if cfg.Region == "" {
		return fmt.Errorf("region must be set")
	}
	if cfg.Tabular.TablePrefix == "" {
		return fmt.Errorf("tabular.table_prefix must be set")
	}
	if cfg.Object.BucketPrefix == "" {
		return fmt.Errorf("object.bucket_prefix must be set")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if cfg.RateLimitRPS <= 0 {
		return fmt.Errorf("rate_limit_rps must be > 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
