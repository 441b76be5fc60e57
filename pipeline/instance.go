// Package pipeline implements PipelineInstance (spec §3, §4.3): the
// stateful worker wrapping one provider endpoint, its lifecycle state
// machine, health computation, and execute hook. Ownership is
// exclusive to the scheduler — no external code mutates an instance's
// metrics or state directly.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/provider"
)

// State is the PipelineInstance lifecycle state (spec §3).
type State int

const (
	StateCreating State = iota
	StateInitializing
	StateReady
	StateRunning
	StateError
	StateMaintenance
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateMaintenance:
		return "maintenance"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Health is the PipelineInstance health classification (spec §3).
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Config is the subset of config.PipelineConfig an Instance needs;
// package pipeline does not import package config to avoid a cycle
// with package scheduler, which constructs instances from config.
type Config struct {
	PipelineID            string
	Weight                int
	MaxConcurrentRequests int
	Timeout               time.Duration
	UnhealthyThreshold    int // consecutiveErrors >= this => Unhealthy; default 4 per spec (>3)
}

// Metrics is a point-in-time copy of an instance's health metrics,
// safe to hand to external readers (spec §5: "external readers
// receive a copy").
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	ConsecutiveErrors   int32
	AverageResponseTime time.Duration
	SuccessRate         float64
	LastError           string
	LastErrorTime       time.Time
	LastSuccessTime     time.Time
}

// Instance is one live worker bound to one PipelineConfig.
type Instance struct {
	InstanceID string
	PipelineID string
	cfg        Config
	adapter    provider.Adapter
	logger     logging.Logger

	mu    sync.RWMutex
	state State

	enabled       atomic.Bool
	inMaintenance atomic.Bool
	health        atomic.Int32 // Health

	requestCount      atomic.Int64
	errorCount        atomic.Int64
	consecutiveErrors atomic.Int32
	lastError         atomic.Value // string
	lastErrorTime     atomic.Value // time.Time
	lastSuccessTime   atomic.Value // time.Time

	// averageResponseTime (EWMA, alpha=0.1) is only ever mutated from
	// recordEWMA, which holds avgMu, so a plain field guarded by avgMu
	// is enough; readers take avgMu too.
	avgMu   sync.Mutex
	avgResp time.Duration

	connMu         sync.Mutex
	currentConns   int
}

// New creates an instance in state Creating. The scheduler calls
// Initialize before the instance becomes selectable.
func New(cfg Config, adapter provider.Adapter, logger logging.Logger) *Instance {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 4
	}
	inst := &Instance{
		InstanceID: uuid.NewString(),
		PipelineID: cfg.PipelineID,
		cfg:        cfg,
		adapter:    adapter,
		logger:     logger,
		state:      StateCreating,
	}
	inst.enabled.Store(true)
	inst.health.Store(int32(HealthUnknown))
	inst.lastError.Store("")
	inst.lastErrorTime.Store(time.Time{})
	inst.lastSuccessTime.Store(time.Time{})
	return inst
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Initialize transitions Creating -> Initializing -> Ready. On failure
// it transitions to Error and returns a non-recoverable
// PIPELINE_INITIALIZATION_FAILED error.
func (i *Instance) Initialize(ctx context.Context) error {
	i.setState(StateInitializing)
	if err := i.adapter.Initialize(ctx); err != nil {
		i.setState(StateError)
		return schedulererrors.New(schedulererrors.CodePipelineInitFailed,
			"pipeline instance initialization failed",
			schedulererrors.WithCause(err),
			schedulererrors.WithPipelineID(i.PipelineID),
			schedulererrors.WithInstanceID(i.InstanceID))
	}
	i.setState(StateReady)
	return nil
}

// IsReady reports whether Execute's precondition holds.
func (i *Instance) IsReady() bool {
	return i.State() == StateReady
}

// Execute requires IsReady(); it transitions Ready->Running, invokes
// the provider hook, records metrics (duration is always recorded via
// EWMA regardless of outcome), and transitions back to Ready on
// success or to Error on failure, raising a classified PipelineError.
func (i *Instance) Execute(ctx context.Context, payload interface{}) (interface{}, error) {
	if !i.IsReady() {
		return nil, schedulererrors.New(schedulererrors.CodeNoAvailableInstance,
			"instance not ready", schedulererrors.WithPipelineID(i.PipelineID), schedulererrors.WithInstanceID(i.InstanceID))
	}
	i.setState(StateRunning)
	start := time.Now()

	result, err := i.adapter.Execute(ctx, payload)
	duration := time.Since(start)
	i.recordEWMA(duration)

	if err != nil {
		i.setState(StateError)
		i.requestCount.Add(1)
		i.errorCount.Add(1)
		i.consecutiveErrors.Add(1)
		i.lastError.Store(err.Error())
		i.lastErrorTime.Store(time.Now())
		return nil, i.classify(err)
	}

	i.setState(StateReady)
	i.requestCount.Add(1)
	i.consecutiveErrors.Store(0)
	i.lastSuccessTime.Store(time.Now())
	return result, nil
}

// classify wraps a raw adapter error into a PipelineError. The
// instance does not decide retry policy — that is package
// errorhandler's job — it only attaches the identity needed to act on it.
func (i *Instance) classify(err error) error {
	var pe *schedulererrors.PipelineError
	if errors.As(err, &pe) {
		pe.PipelineID = i.PipelineID
		pe.InstanceID = i.InstanceID
		return pe
	}
	if ctx := ctxErr(err); ctx != nil {
		return schedulererrors.New(schedulererrors.CodeExecutionTimeout, ctx.Error(),
			schedulererrors.WithCause(err), schedulererrors.WithPipelineID(i.PipelineID), schedulererrors.WithInstanceID(i.InstanceID))
	}
	return schedulererrors.New(schedulererrors.CodeConnectionFailed, err.Error(),
		schedulererrors.WithCause(err), schedulererrors.WithPipelineID(i.PipelineID), schedulererrors.WithInstanceID(i.InstanceID))
}

func ctxErr(err error) error {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return err
	}
	return nil
}

func (i *Instance) recordEWMA(d time.Duration) {
	const alpha = 0.1
	i.avgMu.Lock()
	defer i.avgMu.Unlock()
	if i.avgResp == 0 {
		i.avgResp = d
		return
	}
	i.avgResp = time.Duration(alpha*float64(d) + (1-alpha)*float64(i.avgResp))
}

// Destroy transitions Ready/Error -> Destroying -> Destroyed. After
// this the instance is never selectable again.
func (i *Instance) Destroy(ctx context.Context) error {
	i.setState(StateDestroying)
	err := i.adapter.Destroy(ctx)
	i.setState(StateDestroyed)
	return err
}

// PerformHealthCheck is invoked no more often than the configured
// health-check interval; the caller (package scheduler) enforces the
// cadence. On failure it increments consecutiveErrors, on success
// resets it to zero, then recomputes Health per spec §4.3 using
// cfg.UnhealthyThreshold in place of the literal ">3".
func (i *Instance) PerformHealthCheck(ctx context.Context) {
	ok := i.adapter.HealthCheck(ctx)
	if ok {
		i.consecutiveErrors.Store(0)
	} else {
		i.consecutiveErrors.Add(1)
	}
	i.recomputeHealth()
}

func (i *Instance) recomputeHealth() {
	state := i.State()
	consecutive := i.consecutiveErrors.Load()
	successRate := i.SuccessRate()

	var h Health
	switch {
	case !i.enabled.Load() || i.inMaintenance.Load() || state == StateError || int(consecutive) >= i.cfg.UnhealthyThreshold:
		h = HealthUnhealthy
	// An instance that has served no requests yet has no success rate
	// to judge it by; only its consecutive errors count.
	case consecutive > 0 || (i.requestCount.Load() > 0 && successRate < 0.8):
		h = HealthDegraded
	default:
		h = HealthHealthy
	}
	i.health.Store(int32(h))
}

// Health returns the current health classification.
func (i *Instance) Health() Health {
	return Health(i.health.Load())
}

// IsHealthy is true iff Health=Healthy, enabled, not in maintenance,
// and state=Ready.
func (i *Instance) IsHealthy() bool {
	return i.Health() == HealthHealthy && i.enabled.Load() && !i.inMaintenance.Load() && i.State() == StateReady
}

// Enable/Disable/SetMaintenance mutate flags; SetMaintenance(true)
// additionally forces state=Maintenance per spec §4.3.
func (i *Instance) Enable()  { i.enabled.Store(true); i.recomputeHealth() }
func (i *Instance) Disable() { i.enabled.Store(false); i.recomputeHealth() }

func (i *Instance) SetMaintenance(on bool) {
	i.inMaintenance.Store(on)
	if on {
		i.setState(StateMaintenance)
	} else if i.State() == StateMaintenance {
		i.setState(StateReady)
	}
	i.recomputeHealth()
}

func (i *Instance) InMaintenance() bool { return i.inMaintenance.Load() }

// SuccessRate = (requestCount - errorCount) / max(requestCount, 1).
func (i *Instance) SuccessRate() float64 {
	reqs := i.requestCount.Load()
	errs := i.errorCount.Load()
	denom := reqs
	if denom < 1 {
		denom = 1
	}
	return float64(reqs-errs) / float64(denom)
}

// AverageResponseTime returns the current EWMA value.
func (i *Instance) AverageResponseTime() time.Duration {
	i.avgMu.Lock()
	defer i.avgMu.Unlock()
	return i.avgResp
}

// Adapter returns the underlying provider adapter. Used by admin
// tooling and tests that need to script or inspect provider behavior
// directly; the scheduler itself only calls it through Execute.
func (i *Instance) Adapter() provider.Adapter {
	return i.adapter
}

// Weight returns the configured weight (>0).
func (i *Instance) Weight() int {
	if i.cfg.Weight <= 0 {
		return 1
	}
	return i.cfg.Weight
}

// CurrentConnections returns the in-flight count tracked by the
// balancer's IncConnections/DecConnections calls.
func (i *Instance) CurrentConnections() int {
	i.connMu.Lock()
	defer i.connMu.Unlock()
	return i.currentConns
}

// IncConnections/DecConnections are called by package balancer around
// dispatch; DecConnections must run exactly once per completed request
// regardless of outcome (spec §8 invariant).
func (i *Instance) IncConnections() {
	i.connMu.Lock()
	i.currentConns++
	i.connMu.Unlock()
}

func (i *Instance) DecConnections() {
	i.connMu.Lock()
	if i.currentConns > 0 {
		i.currentConns--
	}
	i.connMu.Unlock()
}

// SnapshotMetrics returns a copy-safe view of the instance's metrics.
func (i *Instance) SnapshotMetrics() Metrics {
	lastErr, _ := i.lastError.Load().(string)
	lastErrTime, _ := i.lastErrorTime.Load().(time.Time)
	lastSuccess, _ := i.lastSuccessTime.Load().(time.Time)
	return Metrics{
		RequestCount:        i.requestCount.Load(),
		ErrorCount:          i.errorCount.Load(),
		ConsecutiveErrors:   i.consecutiveErrors.Load(),
		AverageResponseTime: i.AverageResponseTime(),
		SuccessRate:         i.SuccessRate(),
		LastError:           lastErr,
		LastErrorTime:       lastErrTime,
		LastSuccessTime:     lastSuccess,
	}
}
