// Package scheduler implements the Scheduler (spec §4.6): the entry
// point that composes pipeline, balancer, blacklist, errorhandler,
// provider, auth, and trace into the admission/selection/dispatch/
// retry-failover loop, plus dynamic fleet reconfiguration and periodic
// health probing.
//
// Concurrency shape — a state machine guarded by a mutex for rare
// transitions, atomic counters on the hot path, and background
// goroutines for periodic duties — is grounded on the teacher's
// BaseAgent (core/agent.go), generalized from "one agent's lifecycle"
// to "one fleet's lifecycle".
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jasonzhangf/pipeline-scheduler/auth"
	"github.com/jasonzhangf/pipeline-scheduler/balancer"
	"github.com/jasonzhangf/pipeline-scheduler/blacklist"
	"github.com/jasonzhangf/pipeline-scheduler/config"
	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
	"github.com/jasonzhangf/pipeline-scheduler/errorhandler"
	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
	"github.com/jasonzhangf/pipeline-scheduler/provider"
	"github.com/jasonzhangf/pipeline-scheduler/trace"
)

// State is the scheduler's own lifecycle state machine (spec §4.6).
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ExecuteOptions resolves the spec §9 open question: requestClass is
// the explicit admission-time field consulted for candidate filtering;
// RoutingID on trace.ExecutionContext is carried as metadata only.
type ExecuteOptions struct {
	MaxRetries   *int
	Timeout      time.Duration
	Metadata     map[string]interface{}
	RequestClass string
}

// Stats is the SchedulerStats observability snapshot (spec §3).
type Stats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	ActiveExecutions   int64
	PerStrategyCounts  map[string]int64
}

// PipelineStatus is a wait-free snapshot of one pipeline's runtime state.
type PipelineStatus struct {
	PipelineID string
	InstanceID string
	State      pipeline.State
	Health     pipeline.Health
	Metrics    pipeline.Metrics
	Enabled    bool
	Maintenance bool
}

// Scheduler is the core orchestrator. Multiple Schedulers may coexist
// in one process without cross-talk (spec §5: no global singletons).
type Scheduler struct {
	cfg config.PipelineSystemConfig

	registry *provider.Registry
	logger   logging.Logger
	metrics  metrics.Collector
	sink     trace.Sink
	creds    auth.CredentialProvider

	blacklist *blacklist.Blacklist
	balancer  *balancer.Balancer
	errors    *errorhandler.Center
	prober    *balancer.Prober
	tracer    *trace.Tracer

	mu    sync.RWMutex
	state State

	instances map[string]*pipeline.Instance // instanceID -> instance
	byPipeline map[string][]*pipeline.Instance

	inflight atomic.Int64

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures optional collaborators at construction.
type Option func(*Scheduler)

func WithLogger(l logging.Logger) Option           { return func(s *Scheduler) { s.logger = l } }
func WithMetrics(m metrics.Collector) Option        { return func(s *Scheduler) { s.metrics = m } }
func WithDebugSink(sink trace.Sink) Option          { return func(s *Scheduler) { s.sink = sink } }
func WithCredentialProvider(c auth.CredentialProvider) Option {
	return func(s *Scheduler) { s.creds = c }
}

// WithTracer overrides the default in-process OTel tracer, e.g. to pass
// a TracerProvider wired to a real OTLP exporter.
func WithTracer(t *trace.Tracer) Option { return func(s *Scheduler) { s.tracer = t } }

// executionContextKey is the context key under which Execute stashes the
// in-flight trace.ExecutionContext so logging.BaggageExtractor can reach
// it from an InfoWithContext/ErrorWithContext call several layers down.
type executionContextKey struct{}

func contextWithExecutionContext(ctx context.Context, ec *trace.ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// baggageFromContext adapts trace.ExecutionContext.Baggage to
// logging.BaggageExtractor; wired onto the logger in Initialize so every
// *WithContext log line is correlated with the request's trace/execution
// IDs.
func baggageFromContext(ctx context.Context) map[string]string {
	ec, ok := ctx.Value(executionContextKey{}).(*trace.ExecutionContext)
	if !ok {
		return nil
	}
	return ec.Baggage()
}

// New constructs a Scheduler in state Created. Call Initialize before
// Execute.
func New(registry *provider.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:   registry,
		logger:     logging.NoOp{},
		metrics:    metrics.NoOp{},
		sink:       trace.NoopSink{},
		tracer:     trace.NewTracer(nil),
		state:      StateCreated,
		instances:  make(map[string]*pipeline.Instance),
		byPipeline: make(map[string][]*pipeline.Instance),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize builds the initial fleet from cfg.Pipelines, initializing
// each instance concurrently; an instance whose Initialize fails is
// recorded as destroyed and never added to the active set.
func (s *Scheduler) Initialize(ctx context.Context, cfg config.PipelineSystemConfig) error {
	s.setState(StateInitializing)
	s.cfg = cfg

	if pl, ok := s.logger.(*logging.ProductionLogger); ok {
		pl.WithBaggage(baggageFromContext)
	}

	s.blacklist = blacklist.New(blacklist.Config{
		Enabled:                  cfg.Scheduler.Blacklist.Enabled,
		MaxEntries:               cfg.Scheduler.Blacklist.MaxEntries,
		CleanupInterval:          cfg.Scheduler.Blacklist.CleanupInterval,
		DefaultBlacklistDuration: cfg.Scheduler.Blacklist.DefaultBlacklistDuration,
		MaxBlacklistDuration:     cfg.Scheduler.Blacklist.MaxBlacklistDuration,
	}, s.logger, s.metrics)

	strategy := balancer.FactoryFor(cfg.Balancer.Strategy)
	s.balancer = balancer.New(strategy, s.blacklist, s.metrics)
	// One token per instance per interval, so every instance in the
	// initial fleet can be probed on each health-check tick.
	probeBurst := len(cfg.Pipelines) + 1
	s.prober = balancer.NewProber(cfg.Balancer.HealthCheckInterval/time.Duration(probeBurst), probeBurst)

	s.errors = errorhandler.NewCenter(errorhandler.DefaultRetryConfig(), s.metrics)
	for _, ov := range cfg.Scheduler.ErrorHandlingStrategies {
		s.errors.Override(schedulererrors.Code(ov.ErrorCode), errorhandler.Strategy{
			Action:            errorhandler.ActionKind(ov.Action),
			RetryCount:        ov.RetryCount,
			RetryDelay:        ov.RetryDelay,
			BlacklistDuration: ov.BlacklistDuration,
			ShouldDestroy:     ov.ShouldDestroy,
		})
	}
	for _, pc := range cfg.Pipelines {
		s.errors.SetPipelineRetryConfig(pc.ID, retryConfigFrom(pc.RetryPolicy))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, pc := range cfg.Pipelines {
		if !pc.Enabled {
			continue
		}
		pc := pc
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := s.buildInstance(ctx, pc)
			if err != nil {
				s.logger.Error("pipeline instance init failed, not added to active set", map[string]interface{}{
					"pipeline_id": pc.ID, "error": err.Error(),
				})
				return
			}
			mu.Lock()
			s.instances[inst.InstanceID] = inst
			s.byPipeline[pc.ID] = append(s.byPipeline[pc.ID], inst)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if cfg.Scheduler.EnableHealthChecks {
		s.wg.Add(1)
		go s.healthProbeLoop(cfg.Balancer.HealthCheckInterval)
	}

	s.setState(StateReady)
	return nil
}

// retryConfigFrom maps a pipeline's data-model RetryPolicy onto the
// errorhandler.RetryConfig shape package errorhandler's backoff math
// actually consumes.
func retryConfigFrom(rp config.RetryPolicy) errorhandler.RetryConfig {
	return errorhandler.RetryConfig{
		BaseDelay:     rp.BaseDelay,
		MaxDelay:      rp.MaxDelay,
		Multiplier:    rp.BackoffMultiplier,
		JitterEnabled: rp.Jitter,
	}
}

func (s *Scheduler) buildInstance(ctx context.Context, pc config.PipelineConfig) (*pipeline.Instance, error) {
	adapter, err := s.registry.Create(pc.Type, pc.CustomConfig)
	if err != nil {
		return nil, err
	}
	icfg := pipeline.Config{
		PipelineID:            pc.ID,
		Weight:                pc.Weight,
		MaxConcurrentRequests: pc.MaxConcurrentRequests,
		Timeout:               pc.Timeout,
		UnhealthyThreshold:    s.cfg.Balancer.UnhealthyThreshold,
	}
	inst := pipeline.New(icfg, adapter, s.logger)
	if err := inst.Initialize(ctx); err != nil {
		return nil, err
	}
	inst.Enable()
	return inst, nil
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Execute is the admission/selection/dispatch/retry-failover loop
// (spec §4.6 step 2).
func (s *Scheduler) Execute(ctx context.Context, payload interface{}, opts ExecuteOptions) (interface{}, error) {
	if s.State() != StateReady {
		return nil, schedulererrors.New(schedulererrors.CodeSchedulerOverloaded, "scheduler not ready",
			schedulererrors.WithCause(schedulererrors.ErrNotReady))
	}
	if s.inflight.Load() >= int64(s.cfg.Scheduler.MaxConcurrentRequests) {
		return nil, schedulererrors.New(schedulererrors.CodeSchedulerOverloaded, "max concurrent requests reached",
			schedulererrors.WithCause(schedulererrors.ErrSchedulerOverloaded))
	}

	s.inflight.Add(1)
	s.totalRequests.Add(1)
	defer s.inflight.Add(-1)

	ec := trace.New(uuid.NewString())
	ec.RoutingID = opts.RequestClass
	ctx = contextWithExecutionContext(ctx, ec)
	defer func() { s.sink.Emit(ec.Snapshot()) }()

	maxRetries := s.cfg.Scheduler.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}

	// stageCtx/endSpan track the OTel span for whichever stage ec is
	// currently in; advance closes the previous span, moves ec forward,
	// and opens the next one, keeping the OTel timeline in lockstep with
	// ec's own StageTimings (spec §4.7, §11).
	stageCtx, endSpan := s.tracer.StageSpan(ctx, ec, ec.Stage)
	advance := func(next trace.Stage) {
		endSpan()
		ec.Advance(next)
		stageCtx, endSpan = s.tracer.StageSpan(ctx, ec, next)
	}

	advance(trace.StageScheduling)
	candidates := s.candidateSet(opts.RequestClass)

	var lastErr error
	excluded := make(map[string]bool)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		advance(trace.StagePipelineSelection)
		pool := filterExcluded(candidates, excluded)
		inst := s.balancer.Select(pool)
		if inst == nil {
			lastErr = schedulererrors.New(schedulererrors.CodeNoAvailableInstance, "no available instance",
				schedulererrors.WithCause(schedulererrors.ErrNoAvailableInstance))
			break
		}

		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = s.pipelineTimeout(inst.PipelineID)
		}

		advance(trace.StageProviderExecution)
		result, err := s.dispatch(stageCtx, inst, payload, timeout)
		if err == nil {
			advance(trace.StageResponseProcessing)
			ec.Response = trace.Sanitize(result)
			advance(trace.StageCompletion)
			ec.Complete(nil)
			endSpan()
			s.successfulRequests.Add(1)
			s.logger.InfoWithContext(ctx, "request completed", map[string]interface{}{
				"pipeline_id": inst.PipelineID, "attempt": attempt,
			})
			return result, nil
		}

		lastErr = err
		advance(trace.StageErrorHandling)
		if pe, ok := err.(*schedulererrors.PipelineError); ok && pe.Impact == schedulererrors.ImpactAllPipelines {
			s.escalateToShuttingDown(ctx, pe)
		}
		action := s.errors.Handle(err, attempt)

		switch action.Kind {
		case errorhandler.ActionRetry:
			if attempt >= maxRetries {
				excluded[inst.InstanceID] = true
				continue
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries + 1
			case <-time.After(action.AfterMs):
			}
		case errorhandler.ActionBlacklist:
			s.blacklist.Add(inst.PipelineID, action.BlacklistDuration, action.Reason)
			excluded[inst.InstanceID] = true
		case errorhandler.ActionMaintenance:
			inst.SetMaintenance(true)
			excluded[inst.InstanceID] = true
			go s.refreshCredential(inst)
		case errorhandler.ActionDestroy:
			excluded[inst.InstanceID] = true
			go s.DestroyPipeline(context.Background(), inst.PipelineID)
		case errorhandler.ActionFailover:
			excluded[inst.InstanceID] = true
		case errorhandler.ActionSurface:
			s.failedRequests.Add(1)
			ec.Complete(err)
			endSpan()
			return nil, err
		}
	}

	s.failedRequests.Add(1)
	ec.Complete(lastErr)
	endSpan()
	return nil, lastErr
}

// escalateToShuttingDown transitions the scheduler's own state machine
// to ShuttingDown once: a fatal error (impact=all_pipelines) means no
// pipeline in the fleet should be trusted with further admission (spec
// §7). Callers still in flight observe the state change on their next
// admission check; a full Shutdown (draining + destroying instances)
// remains an explicit operator action.
func (s *Scheduler) escalateToShuttingDown(ctx context.Context, pe *schedulererrors.PipelineError) {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateInitializing {
		s.state = StateShuttingDown
		s.mu.Unlock()
		s.logger.ErrorWithContext(ctx, "fatal error escalated scheduler to shutting_down", map[string]interface{}{
			"code": pe.Code.String(), "pipeline_id": pe.PipelineID, "message": pe.Message,
		})
		return
	}
	s.mu.Unlock()
}

// refreshCredential invokes the CredentialProvider for inst's pipeline
// while it sits in Maintenance. A successful refresh clears maintenance
// so the instance is selectable again starting with its next health
// check (spec §7, scenario 4); a failed refresh leaves it excluded.
func (s *Scheduler) refreshCredential(inst *pipeline.Instance) {
	if s.creds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.creds.Refresh(ctx, inst.PipelineID); err != nil {
		s.logger.Warn("credential refresh failed", map[string]interface{}{"pipeline_id": inst.PipelineID, "error": err.Error()})
		return
	}
	s.logger.Info("credential refreshed", map[string]interface{}{"pipeline_id": inst.PipelineID})
	inst.SetMaintenance(false)
}

// dispatch runs one attempt against inst under timeout, always pairing
// balancer.Dispatch with exactly one RecordSuccess/RecordFailure.
func (s *Scheduler) dispatch(ctx context.Context, inst *pipeline.Instance, payload interface{}, timeout time.Duration) (interface{}, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	balancer.Dispatch(inst)
	start := time.Now()
	result, err := inst.Execute(attemptCtx, payload)
	rt := time.Since(start)

	if err != nil {
		s.balancer.RecordFailure(inst, rt)
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, schedulererrors.New(schedulererrors.CodeExecutionTimeout, "execution deadline exceeded",
				schedulererrors.WithCause(err),
				schedulererrors.WithPipelineID(inst.PipelineID),
				schedulererrors.WithInstanceID(inst.InstanceID))
		}
		return nil, err
	}
	s.balancer.RecordSuccess(inst, rt)
	return result, nil
}

func (s *Scheduler) candidateSet(requestClass string) []*pipeline.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if requestClass == "" {
		out := make([]*pipeline.Instance, 0, len(s.instances))
		for _, inst := range s.instances {
			out = append(out, inst)
		}
		return out
	}
	return append([]*pipeline.Instance(nil), s.byPipeline[requestClass]...)
}

func (s *Scheduler) pipelineTimeout(pipelineID string) time.Duration {
	for _, pc := range s.cfg.Pipelines {
		if pc.ID == pipelineID {
			return pc.Timeout
		}
	}
	return s.cfg.Scheduler.DefaultTimeout
}

func filterExcluded(instances []*pipeline.Instance, excluded map[string]bool) []*pipeline.Instance {
	if len(excluded) == 0 {
		return instances
	}
	out := make([]*pipeline.Instance, 0, len(instances))
	for _, inst := range instances {
		if !excluded[inst.InstanceID] {
			out = append(out, inst)
		}
	}
	return out
}

// HealthCheck is the fleet-level boolean: true iff at least one
// instance is healthy.
func (s *Scheduler) HealthCheck() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.instances {
		if inst.IsHealthy() {
			return true
		}
	}
	return false
}

// GetSchedulerStats returns a wait-free observability snapshot.
func (s *Scheduler) GetSchedulerStats() Stats {
	s.mu.RLock()
	active := int64(len(s.instances))
	s.mu.RUnlock()
	return Stats{
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		FailedRequests:     s.failedRequests.Load(),
		ActiveExecutions:   s.inflight.Load(),
		PerStrategyCounts:  map[string]int64{"active_instances": active},
	}
}

// GetAllPipelineStatuses returns a wait-free snapshot of every live instance.
func (s *Scheduler) GetAllPipelineStatuses() []PipelineStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PipelineStatus, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, PipelineStatus{
			PipelineID:  inst.PipelineID,
			InstanceID:  inst.InstanceID,
			State:       inst.State(),
			Health:      inst.Health(),
			Metrics:     inst.SnapshotMetrics(),
			Enabled:     inst.IsHealthy() || inst.State() == pipeline.StateReady,
			Maintenance: inst.InMaintenance(),
		})
	}
	return out
}

func (s *Scheduler) healthProbeLoop(interval time.Duration) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probeAll()
		}
	}
}

func (s *Scheduler) probeAll() {
	s.mu.RLock()
	insts := make([]*pipeline.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, inst := range insts {
		_ = s.prober.Probe(ctx, inst)
	}
}

// CreatePipeline dynamically adds a pipeline to the live fleet.
func (s *Scheduler) CreatePipeline(ctx context.Context, pc config.PipelineConfig) error {
	if err := pc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, exists := s.byPipeline[pc.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", schedulererrors.ErrDuplicatePipelineID, pc.ID)
	}
	s.mu.Unlock()

	inst, err := s.buildInstance(ctx, pc)
	if err != nil {
		return err
	}
	s.errors.SetPipelineRetryConfig(pc.ID, retryConfigFrom(pc.RetryPolicy))

	s.mu.Lock()
	s.cfg.Pipelines = append(s.cfg.Pipelines, pc)
	s.instances[inst.InstanceID] = inst
	s.byPipeline[pc.ID] = append(s.byPipeline[pc.ID], inst)
	s.mu.Unlock()
	return nil
}

// DestroyPipeline removes every instance of pipelineID from the active
// set and destroys them. Safe to call during live traffic.
func (s *Scheduler) DestroyPipeline(ctx context.Context, pipelineID string) error {
	s.mu.Lock()
	insts := s.byPipeline[pipelineID]
	delete(s.byPipeline, pipelineID)
	for _, inst := range insts {
		delete(s.instances, inst.InstanceID)
	}
	s.mu.Unlock()

	for _, inst := range insts {
		_ = inst.Destroy(ctx)
	}
	if len(insts) == 0 {
		return schedulererrors.New(schedulererrors.CodePipelineNotFound, "pipeline not found",
			schedulererrors.WithCause(schedulererrors.ErrPipelineNotFound), schedulererrors.WithPipelineID(pipelineID))
	}
	return nil
}

// Reconfigure diffs newCfg's pipeline list against the live fleet and
// applies the minimal set of createPipeline/destroyPipeline/
// enablePipeline/disablePipeline calls to converge, safe to call during
// live traffic (spec §4.6, supplemented feature SPEC_FULL §12). Scheduler-
// level settings such as maxRetries take effect for requests admitted
// after this call returns. The balancer strategy, blacklist and health
// probe built in Initialize are not rebuilt, so a changed strategy or
// blacklist setting does not take effect.
func (s *Scheduler) Reconfigure(ctx context.Context, newCfg config.PipelineSystemConfig) error {
	if err := newCfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg.Scheduler = newCfg.Scheduler
	s.cfg.Balancer = newCfg.Balancer
	s.cfg.Global = newCfg.Global
	existing := make(map[string]config.PipelineConfig, len(s.cfg.Pipelines))
	for _, pc := range s.cfg.Pipelines {
		existing[pc.ID] = pc
	}
	s.mu.Unlock()

	wanted := make(map[string]config.PipelineConfig, len(newCfg.Pipelines))
	for _, pc := range newCfg.Pipelines {
		wanted[pc.ID] = pc
	}

	for id := range existing {
		if _, ok := wanted[id]; !ok {
			if err := s.DestroyPipeline(ctx, id); err != nil {
				return err
			}
		}
	}

	for id, pc := range wanted {
		old, ok := existing[id]
		if !ok {
			if err := s.CreatePipeline(ctx, pc); err != nil {
				return err
			}
			continue
		}

		s.errors.SetPipelineRetryConfig(pc.ID, retryConfigFrom(pc.RetryPolicy))
		s.mu.Lock()
		for i, existingPC := range s.cfg.Pipelines {
			if existingPC.ID == pc.ID {
				s.cfg.Pipelines[i] = pc
			}
		}
		s.mu.Unlock()

		if pc.Enabled != old.Enabled {
			if pc.Enabled {
				s.EnablePipeline(pc.ID)
			} else {
				s.DisablePipeline(pc.ID)
			}
		}
	}
	return nil
}

// EnablePipeline/DisablePipeline flip every instance of pipelineID.
func (s *Scheduler) EnablePipeline(pipelineID string) {
	s.forEachInstance(pipelineID, func(inst *pipeline.Instance) { inst.Enable() })
}

func (s *Scheduler) DisablePipeline(pipelineID string) {
	s.forEachInstance(pipelineID, func(inst *pipeline.Instance) { inst.Disable() })
}

// SetPipelineMaintenance flips maintenance mode on every instance of pipelineID.
func (s *Scheduler) SetPipelineMaintenance(pipelineID string, on bool) {
	s.forEachInstance(pipelineID, func(inst *pipeline.Instance) { inst.SetMaintenance(on) })
}

func (s *Scheduler) forEachInstance(pipelineID string, fn func(*pipeline.Instance)) {
	s.mu.RLock()
	insts := append([]*pipeline.Instance(nil), s.byPipeline[pipelineID]...)
	s.mu.RUnlock()
	for _, inst := range insts {
		fn(inst)
	}
}

// Shutdown refuses new requests, waits (bounded by shutdownTimeout)
// for inflight to drain, destroys all instances, and stops sweepers.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.setState(StateShuttingDown)
	close(s.stopCh)
	s.wg.Wait()

	deadline := s.cfg.Scheduler.ShutdownTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		if s.inflight.Load() == 0 {
			break
		}
		select {
		case <-drainCtx.Done():
			break drain
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	insts := make([]*pipeline.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.instances = make(map[string]*pipeline.Instance)
	s.byPipeline = make(map[string][]*pipeline.Instance)
	s.mu.Unlock()

	for _, inst := range insts {
		_ = inst.Destroy(ctx)
	}
	s.blacklist.Stop()

	s.setState(StateShutdown)
	return nil
}
