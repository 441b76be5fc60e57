package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source is the ConfigSource collaborator from spec §6: it returns an
// already-validated PipelineSystemConfig. The core asserts invariants
// but never repairs a Source's output.
type Source interface {
	Load() (*PipelineSystemConfig, error)
}

// FileSource loads a PipelineSystemConfig from a YAML file on disk.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Load() (*PipelineSystemConfig, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", f.Path, err)
	}

	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", f.Path, err)
	}
	applyEnv(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EnvSource builds a single-pipeline config purely from environment
// variables, for zero-config local runs against one upstream.
type EnvSource struct {
	PipelineID   string
	PipelineType string
}

func NewEnvSource(pipelineID, pipelineType string) *EnvSource {
	return &EnvSource{PipelineID: pipelineID, PipelineType: pipelineType}
}

func (e *EnvSource) Load() (*PipelineSystemConfig, error) {
	c := Default()
	applyEnv(c)
	c.Pipelines = append(c.Pipelines, PipelineConfig{
		ID:      e.PipelineID,
		Name:    e.PipelineID,
		Type:    e.PipelineType,
		Enabled: true,
		Weight:  1,
		Timeout: c.Scheduler.DefaultTimeout,
		RetryPolicy: RetryPolicy{
			MaxRetries:        c.Scheduler.MaxRetries,
			BaseDelay:         defaultRetryPolicy.BaseDelay,
			MaxDelay:          defaultRetryPolicy.MaxDelay,
			BackoffMultiplier: defaultRetryPolicy.BackoffMultiplier,
			Jitter:            defaultRetryPolicy.Jitter,
		},
		HealthCheck: HealthCheckConfig{Enabled: true, Interval: c.Balancer.HealthCheckInterval, Timeout: 5 * time.Second},
	})
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var defaultRetryPolicy = RetryPolicy{
	BaseDelay:         100 * time.Millisecond,
	MaxDelay:          5 * time.Second,
	BackoffMultiplier: 2.0,
	Jitter:            true,
}
