// Package logging provides the scheduler's layered observability
// logger: console output always, metrics emission when a collector is
// wired, trace-context correlation when a context carries one.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the interface every scheduler component logs through.
// Components never depend on ProductionLogger directly so tests can
// inject NoOp.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// MetricEmitter is the narrow surface ProductionLogger needs from a
// metrics collector; package metrics implements it. Kept separate to
// avoid an import cycle between logging and metrics.
type MetricEmitter interface {
	IncCounter(name string, labels map[string]string)
}

// BaggageExtractor pulls trace-correlation fields out of a context;
// package scheduler supplies one built on trace.ExecutionContext.Baggage.
type BaggageExtractor func(ctx context.Context) map[string]string

// Config mirrors the teacher's LoggingConfig/DevelopmentConfig split.
type Config struct {
	Level  string `env:"SCHEDULER_LOG_LEVEL" default:"info"`
	Format string `env:"SCHEDULER_LOG_FORMAT" default:"text"`
	Output string `env:"SCHEDULER_LOG_OUTPUT" default:"stdout"`
	Debug  bool   `env:"SCHEDULER_DEBUG" default:"false"`
}

// ProductionLogger is the default Logger: JSON in Kubernetes or when
// explicitly configured, human-readable text otherwise.
type ProductionLogger struct {
	level       string
	debug       bool
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	metrics   MetricEmitter
	baggageFn BaggageExtractor
}

var levelOrder = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// New builds a ProductionLogger for the named component
// ("framework/scheduler", "pipeline/<id>", ...).
func New(cfg Config, component string) *ProductionLogger {
	format := cfg.Format
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	level := strings.ToLower(cfg.Level)
	if level == "" {
		level = "info"
	}
	return &ProductionLogger{
		level:     level,
		debug:     cfg.Debug || level == "debug",
		component: component,
		format:    format,
		output:    out,
	}
}

// WithMetrics wires a metrics collector so every log line beyond the
// console is also counted by level; nil disables the layer.
func (p *ProductionLogger) WithMetrics(m MetricEmitter) *ProductionLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
	return p
}

// WithBaggage wires a trace-baggage extractor for *WithContext calls.
func (p *ProductionLogger) WithBaggage(fn BaggageExtractor) *ProductionLogger {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baggageFn = fn
	return p
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{})  { p.log("info", msg, fields, nil) }
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{})  { p.log("warn", msg, fields, nil) }
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) { p.log("error", msg, fields, nil) }
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !p.debug {
		return
	}
	p.log("debug", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.log("info", msg, fields, ctx)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.log("error", msg, fields, ctx)
}

func (p *ProductionLogger) log(level, msg string, fields map[string]interface{}, ctx context.Context) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if levelOrder[level] < levelOrder[p.level] {
		return
	}

	ts := time.Now().Format(time.RFC3339)
	baggage := map[string]string{}
	if ctx != nil && p.baggageFn != nil {
		baggage = p.baggageFn(ctx)
	}

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		for k, v := range baggage {
			entry["trace."+k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
		traceInfo := ""
		if reqID := baggage["request_id"]; reqID != "" {
			traceInfo = fmt.Sprintf("[req=%s] ", reqID)
		}
		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s %s\n",
			ts, strings.ToUpper(level), p.component, traceInfo, msg, fieldStr.String())
	}

	if p.metrics != nil {
		p.metrics.IncCounter("scheduler.log.events", map[string]string{"level": level, "component": p.component})
	}
}

// NoOp discards everything; used by tests and as the zero-value default
// when a component isn't given a logger.
type NoOp struct{}

func (NoOp) Info(string, map[string]interface{})                                  {}
func (NoOp) Warn(string, map[string]interface{})                                   {}
func (NoOp) Error(string, map[string]interface{})                                  {}
func (NoOp) Debug(string, map[string]interface{})                                  {}
func (NoOp) InfoWithContext(context.Context, string, map[string]interface{})       {}
func (NoOp) ErrorWithContext(context.Context, string, map[string]interface{})      {}
