// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	DB        DBConfig        `mapstructure:"db"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Collector CollectorConfig `mapstructure:"collector"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// OpsConfig controls the health/metrics HTTP server.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig names the upstream draw endpoints.
type SourceConfig struct {
	Name            string `mapstructure:"name"`
	HistoryEndpoint string `mapstructure:"history_endpoint"`
	LatestEndpoint  string `mapstructure:"latest_endpoint"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// CollectorConfig governs collection pacing and batch limits.
type CollectorConfig struct {
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	RateBurst    int     `mapstructure:"rate_burst"`
	BatchSize    int     `mapstructure:"batch_size"`
}

// ValidatorConfig holds validation batch size and the numeric-domain
// predicates used to derive parity and magnitude classes.
type ValidatorConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	DomainMin     int `mapstructure:"domain_min"`
	DomainMax     int `mapstructure:"domain_max"`
	ExpectedCount int `mapstructure:"expected_count"`
	BigThreshold  int `mapstructure:"big_threshold"`
}

// WorkerConfig controls the analysis job worker.
type WorkerConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	ClaimAttempts int `mapstructure:"claim_attempts"`
}

// SchedulerConfig sets the independent stage intervals.
type SchedulerConfig struct {
	CollectorIntervalSeconds int `mapstructure:"collector_interval_seconds"`
	ValidatorIntervalSeconds int `mapstructure:"validator_interval_seconds"`
	WorkerIntervalSeconds    int `mapstructure:"worker_interval_seconds"`
}

// AlertConfig tunes the sliding-window failure monitor.
type AlertConfig struct {
	Window          int `mapstructure:"window"`
	Threshold       int `mapstructure:"threshold"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DRAWPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("ops.port", 8090)
	v.SetDefault("source.name", "history_api")
	v.SetDefault("source.user_agent", "drawpulse/0.1")
	v.SetDefault("source.timeout_seconds", 5)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("collector.rate_limit_rps", 2.0)
	v.SetDefault("collector.rate_burst", 1)
	v.SetDefault("collector.batch_size", 120)
	v.SetDefault("validator.batch_size", 200)
	v.SetDefault("validator.domain_min", 0)
	v.SetDefault("validator.domain_max", 9)
	v.SetDefault("validator.expected_count", 5)
	v.SetDefault("validator.big_threshold", 23)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.claim_attempts", 5)
	v.SetDefault("scheduler.collector_interval_seconds", 60)
	v.SetDefault("scheduler.validator_interval_seconds", 30)
	v.SetDefault("scheduler.worker_interval_seconds", 15)
	v.SetDefault("alerts.window", 5)
	v.SetDefault("alerts.threshold", 3)
	v.SetDefault("alerts.cooldown_seconds", 300)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.HistoryEndpoint == "" && c.Source.LatestEndpoint == "" {
		return fmt.Errorf("source.history_endpoint or source.latest_endpoint must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Collector.BatchSize <= 0 {
		return fmt.Errorf("collector.batch_size must be > 0")
	}
	if c.Validator.BatchSize <= 0 {
		return fmt.Errorf("validator.batch_size must be > 0")
	}
	if c.Validator.DomainMax < c.Validator.DomainMin {
		return fmt.Errorf("validator.domain_max must be >= validator.domain_min")
	}
	if c.Validator.ExpectedCount <= 0 {
		return fmt.Errorf("validator.expected_count must be > 0")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be > 0")
	}
	if c.Scheduler.CollectorIntervalSeconds <= 0 ||
		c.Scheduler.ValidatorIntervalSeconds <= 0 ||
		c.Scheduler.WorkerIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler intervals must be > 0")
	}
	if c.Alerts.Window <= 0 {
		return fmt.Errorf("alerts.window must be > 0")
	}
	if c.Alerts.Threshold <= 0 || c.Alerts.Threshold > c.Alerts.Window {
		return fmt.Errorf("alerts.threshold must be in 1..alerts.window")
	}
	if c.Alerts.CooldownSeconds < 0 {
		return fmt.Errorf("alerts.cooldown_seconds must be >= 0")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}

// SourceTimeout returns the per-request source timeout as a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// AlertCooldown returns the per-component alert cooldown.
func (c Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}

// StageInterval returns the tick interval for a named component.
func (c Config) StageInterval(component string) time.Duration {
	switch component {
	case "collector":
		return time.Duration(c.Scheduler.CollectorIntervalSeconds) * time.Second
	case "validator":
		return time.Duration(c.Scheduler.ValidatorIntervalSeconds) * time.Second
	default:
		return time.Duration(c.Scheduler.WorkerIntervalSeconds) * time.Second
	}
}
