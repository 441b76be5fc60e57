// Package trace implements ExecutionContext (spec §3, §4.7): the
// structured per-request record carrying identifiers, stage timings,
// and a reference to the external debug sink collaborator. It also
// supplies the request/response payload sanitizer required by §4.7.
package trace

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one point in the fixed per-request pipeline.
type Stage string

const (
	StageRequestInit        Stage = "request_init"
	StageScheduling          Stage = "scheduling"
	StagePipelineSelection   Stage = "pipeline_selection"
	StageProviderExecution   Stage = "provider_execution"
	StageResponseProcessing  Stage = "response_processing"
	StageCompletion          Stage = "completion"
	StageErrorHandling       Stage = "error_handling"
)

// ModuleInfo identifies which component/instance is acting within a stage.
type ModuleInfo struct {
	Component  string
	PipelineID string
	InstanceID string
}

// Timing tracks the overall span plus a per-stage breakdown.
type Timing struct {
	StartTime    time.Time
	EndTime      time.Time
	StageTimings map[Stage]time.Duration
}

// ExecutionContext is the single unified record resolving the open
// question in spec §9: requestClass is carried as an explicit option
// at admission (see package scheduler's ExecuteOptions), RoutingID here
// is trace-only metadata and is never consulted for dispatch.
type ExecutionContext struct {
	mu sync.Mutex

	ExecutionID string
	RequestID   string
	TraceID     string
	SessionID   string
	RoutingID   string

	Stage      Stage
	ModuleInfo ModuleInfo
	Timing     Timing

	Request  interface{}
	Response interface{}
	Err      error

	Metadata map[string]interface{}

	parent   *ExecutionContext
	children []*ExecutionContext

	stageStart time.Time
}

// New creates a root ExecutionContext at admission (stage=request_init).
func New(requestID string) *ExecutionContext {
	now := time.Now()
	return &ExecutionContext{
		ExecutionID: uuid.NewString(),
		RequestID:   requestID,
		TraceID:     uuid.NewString(),
		Stage:       StageRequestInit,
		Timing: Timing{
			StartTime:    now,
			StageTimings: make(map[Stage]time.Duration),
		},
		Metadata:   make(map[string]interface{}),
		stageStart: now,
	}
}

// Child creates a nested context for a stage performed on behalf of
// this one (e.g. a per-attempt sub-context). The child's back-reference
// to its parent is non-owning: releasing the child never keeps the
// parent alive, and destroying the parent does not reach into children.
func (c *ExecutionContext) Child() *ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	child := New(c.RequestID)
	child.TraceID = c.TraceID
	child.SessionID = c.SessionID
	child.parent = c
	c.children = append(c.children, child)
	return child
}

// Advance records the duration of the current stage and moves to next.
func (c *ExecutionContext) Advance(next Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.Timing.StageTimings[c.Stage] = now.Sub(c.stageStart)
	c.Stage = next
	c.stageStart = now
}

// Complete marks the context terminal, recording the final stage's
// duration and the overall end time. Called on success or on an
// unrecoverable failure.
func (c *ExecutionContext) Complete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.Timing.StageTimings[c.Stage] = now.Sub(c.stageStart)
	c.Timing.EndTime = now
	c.Err = err
}

// Snapshot returns a value copy safe to hand to a DebugSink without
// holding the context's lock across the emit call.
func (c *ExecutionContext) Snapshot() ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	stageCopy := make(map[Stage]time.Duration, len(c.Timing.StageTimings))
	for k, v := range c.Timing.StageTimings {
		stageCopy[k] = v
	}
	metaCopy := make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		metaCopy[k] = v
	}
	return ExecutionContext{
		ExecutionID: c.ExecutionID,
		RequestID:   c.RequestID,
		TraceID:     c.TraceID,
		SessionID:   c.SessionID,
		RoutingID:   c.RoutingID,
		Stage:       c.Stage,
		ModuleInfo:  c.ModuleInfo,
		Timing:      Timing{StartTime: c.Timing.StartTime, EndTime: c.Timing.EndTime, StageTimings: stageCopy},
		Err:         c.Err,
		Metadata:    metaCopy,
	}
}

// Baggage extracts the low-cardinality fields package logging
// correlates log lines with, satisfying logging.BaggageExtractor
// indirectly via a small adapter in package scheduler.
func (c *ExecutionContext) Baggage() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]string{
		"request_id":  c.RequestID,
		"trace_id":    c.TraceID,
		"execution_id": c.ExecutionID,
	}
}

var sensitiveKeys = []string{"password", "token", "apikey", "secret", "auth", "privatekey"}

const redactionMarker = "***REDACTED***"

// Sanitize returns a copy of a map-shaped payload with any key matching
// the sensitive-field list (case-insensitive) replaced by a constant
// marker, per spec §4.7. Non-map payloads are returned unchanged since
// the scheduler has no generic way to redact an opaque type.
func Sanitize(payload interface{}) interface{} {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactionMarker
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
