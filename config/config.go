// Package config loads, validates, and holds the PipelineSystemConfig
// consumed by the scheduler. It supports three-layer precedence:
// defaults, then environment variables, then functional options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
)

// RetryPolicy is the per-pipeline retry shape from the data model.
type RetryPolicy struct {
	MaxRetries        int           `yaml:"maxRetries" env:"SCHEDULER_MAX_RETRIES" default:"3"`
	BaseDelay         time.Duration `yaml:"baseDelay" default:"100ms"`
	MaxDelay          time.Duration `yaml:"maxDelay" default:"5s"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier" default:"2.0"`
	Jitter            bool          `yaml:"jitter" default:"true"`
}

// HealthCheckConfig controls a pipeline's probe cadence.
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" default:"30s"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
	Endpoint string        `yaml:"endpoint"`
}

// PipelineConfig is the declarative description of one upstream target
// (spec §3). CustomConfig carries provider-specific settings opaque to
// the scheduler.
type PipelineConfig struct {
	ID                    string                 `yaml:"id"`
	Name                  string                 `yaml:"name"`
	Type                  string                 `yaml:"type"`
	Enabled               bool                   `yaml:"enabled" default:"true"`
	Priority              int                    `yaml:"priority"`
	Weight                int                    `yaml:"weight" default:"1"`
	MaxConcurrentRequests int                    `yaml:"maxConcurrentRequests"`
	Timeout               time.Duration          `yaml:"timeout" default:"30s"`
	RetryPolicy           RetryPolicy            `yaml:"retryPolicy"`
	HealthCheck           HealthCheckConfig      `yaml:"healthCheck"`
	CustomConfig          map[string]interface{} `yaml:"customConfig"`
}

// Validate enforces the data-model invariants: id present, weight > 0,
// 0 < timeout <= 300s. It never repairs a bad value, only rejects it.
func (p PipelineConfig) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: pipeline id is required", schedulererrors.ErrInvalidConfiguration)
	}
	if p.Weight <= 0 {
		return fmt.Errorf("%w: pipeline %q weight must be > 0, got %d", schedulererrors.ErrInvalidConfiguration, p.ID, p.Weight)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: pipeline %q timeout must be > 0", schedulererrors.ErrInvalidConfiguration, p.ID)
	}
	if p.Timeout > 300*time.Second {
		return fmt.Errorf("%w: pipeline %q timeout must be <= 300s", schedulererrors.ErrInvalidConfiguration, p.ID)
	}
	if p.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("%w: pipeline %q maxRetries must be >= 0", schedulererrors.ErrInvalidConfiguration, p.ID)
	}
	return nil
}

// BlacklistConfig configures package blacklist.
type BlacklistConfig struct {
	Enabled                 bool          `yaml:"enabled" default:"true"`
	MaxEntries              int           `yaml:"maxEntries" default:"1000"`
	CleanupInterval         time.Duration `yaml:"cleanupInterval" default:"10s"`
	DefaultBlacklistDuration time.Duration `yaml:"defaultBlacklistDuration" default:"60s"`
	MaxBlacklistDuration    time.Duration `yaml:"maxBlacklistDuration" default:"10m"`
}

// CircuitBreakerConfig configures the balancer's health-tripping thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold       int           `yaml:"failureThreshold" default:"5"`
	RecoveryTime           time.Duration `yaml:"recoveryTime" default:"30s"`
	RequestVolumeThreshold int           `yaml:"requestVolumeThreshold" default:"10"`
	Timeout                time.Duration `yaml:"timeout" default:"10s"`
}

// BalancerConfig configures package balancer.
type BalancerConfig struct {
	Strategy              string               `yaml:"strategy" env:"SCHEDULER_BALANCER_STRATEGY" default:"weighted"`
	HealthCheckInterval    time.Duration        `yaml:"healthCheckInterval" default:"30s"`
	UnhealthyThreshold     int                  `yaml:"unhealthyThreshold" default:"4"`
	HealthyThreshold       int                  `yaml:"healthyThreshold" default:"1"`
	EnableCircuitBreaker   bool                 `yaml:"enableCircuitBreaker" default:"true"`
	CircuitBreakerConfig   CircuitBreakerConfig `yaml:"circuitBreakerConfig"`
}

// ErrorStrategyOverride lets operators override the default strategy
// table entry for one error code.
type ErrorStrategyOverride struct {
	ErrorCode         int           `yaml:"errorCode"`
	Action            string        `yaml:"action"`
	RetryCount        int           `yaml:"retryCount"`
	RetryDelay        time.Duration `yaml:"retryDelay"`
	BlacklistDuration time.Duration `yaml:"blacklistDuration"`
	ShouldDestroy     bool          `yaml:"shouldDestroyPipeline"`
}

// SchedulerConfig is the top-level scheduler settings block.
type SchedulerConfig struct {
	MaxRetries              int                     `yaml:"maxRetries" env:"SCHEDULER_MAX_RETRIES" default:"3"`
	DefaultTimeout          time.Duration           `yaml:"defaultTimeout" env:"SCHEDULER_DEFAULT_TIMEOUT" default:"30s"`
	MaxConcurrentRequests   int                     `yaml:"maxConcurrentRequests" env:"SCHEDULER_MAX_CONCURRENT" default:"1000"`
	ShutdownTimeout         time.Duration           `yaml:"shutdownTimeout" default:"30s"`
	EnableMetrics           bool                    `yaml:"enableMetrics" default:"true"`
	EnableHealthChecks      bool                    `yaml:"enableHealthChecks" default:"true"`
	EnableCircuitBreaker    bool                    `yaml:"enableCircuitBreaker" default:"true"`
	ErrorHandlingStrategies []ErrorStrategyOverride `yaml:"errorHandlingStrategies"`
	Blacklist               BlacklistConfig         `yaml:"blacklistConfig"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	Debug    bool   `yaml:"debug" env:"SCHEDULER_DEBUG" default:"false"`
	LogLevel string `yaml:"logLevel" env:"SCHEDULER_LOG_LEVEL" default:"info"`
}

// PipelineSystemConfig is the validated record a ConfigSource returns
// (spec §6). It is the complete input to Scheduler.Initialize.
type PipelineSystemConfig struct {
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Balancer  BalancerConfig   `yaml:"balancer"`
	Global    GlobalConfig     `yaml:"global"`
	Pipelines []PipelineConfig `yaml:"pipelines"`
}

// Validate checks the invariants the core asserts but never repairs:
// unique pipeline ids plus each pipeline's own Validate.
func (c *PipelineSystemConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: %q", schedulererrors.ErrDuplicatePipelineID, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Default returns a system config with every default applied and no
// pipelines; callers append pipelines before validating.
func Default() *PipelineSystemConfig {
	return &PipelineSystemConfig{
		Scheduler: SchedulerConfig{
			MaxRetries:            3,
			DefaultTimeout:        30 * time.Second,
			MaxConcurrentRequests: 1000,
			ShutdownTimeout:       30 * time.Second,
			EnableMetrics:         true,
			EnableHealthChecks:    true,
			EnableCircuitBreaker:  true,
			Blacklist: BlacklistConfig{
				Enabled:                  true,
				MaxEntries:               1000,
				CleanupInterval:          10 * time.Second,
				DefaultBlacklistDuration: 60 * time.Second,
				MaxBlacklistDuration:     10 * time.Minute,
			},
		},
		Balancer: BalancerConfig{
			Strategy:            "weighted",
			HealthCheckInterval: 30 * time.Second,
			UnhealthyThreshold:  4,
			HealthyThreshold:    1,
			EnableCircuitBreaker: true,
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold:       5,
				RecoveryTime:           30 * time.Second,
				RequestVolumeThreshold: 10,
				Timeout:                10 * time.Second,
			},
		},
		Global: GlobalConfig{
			LogLevel: "info",
		},
	}
}

// applyEnv overrides the global/scheduler settings that make sense to
// tune without a config file, matching the teacher's explicit
// os.Getenv-per-field style rather than a reflection-based loader.
func applyEnv(c *PipelineSystemConfig) {
	if v := os.Getenv("SCHEDULER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.MaxRetries = n
		}
	}
	if v := os.Getenv("SCHEDULER_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.DefaultTimeout = d
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.MaxConcurrentRequests = n
		}
	}
	if v := os.Getenv("SCHEDULER_BALANCER_STRATEGY"); v != "" {
		c.Balancer.Strategy = v
	}
	if v := os.Getenv("SCHEDULER_DEBUG"); v != "" {
		c.Global.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("SCHEDULER_LOG_LEVEL"); v != "" {
		c.Global.LogLevel = v
	}
}

// Option mutates a PipelineSystemConfig; the highest-priority layer.
type Option func(*PipelineSystemConfig)

func WithMaxRetries(n int) Option {
	return func(c *PipelineSystemConfig) { c.Scheduler.MaxRetries = n }
}

func WithPipelines(pipelines ...PipelineConfig) Option {
	return func(c *PipelineSystemConfig) { c.Pipelines = append(c.Pipelines, pipelines...) }
}

func WithBalancerStrategy(strategy string) Option {
	return func(c *PipelineSystemConfig) { c.Balancer.Strategy = strategy }
}

func WithDebug(debug bool) Option {
	return func(c *PipelineSystemConfig) { c.Global.Debug = debug }
}

// Load builds a PipelineSystemConfig following the three-layer
// precedence: Default(), then environment variables, then opts.
func Load(opts ...Option) (*PipelineSystemConfig, error) {
	c := Default()
	applyEnv(c)
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
