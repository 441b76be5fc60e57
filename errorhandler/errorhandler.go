// Package errorhandler implements the Error Taxonomy & Strategy Table
// (spec §4.1) and the Error Handler Center (spec §4.5): a stateless
// (aside from counters) classifier that looks up an error's code and
// returns an Action record without performing any I/O or mutating the
// blacklist/instance/scheduler itself.
package errorhandler

import (
	"time"

	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
)

// ActionKind enumerates what the scheduler should do next.
type ActionKind string

const (
	ActionRetry       ActionKind = "retry"
	ActionFailover    ActionKind = "failover"
	ActionBlacklist   ActionKind = "blacklist_temporary"
	ActionMaintenance ActionKind = "maintenance"
	ActionDestroy     ActionKind = "destroy_pipeline"
	ActionIgnore      ActionKind = "ignore"
	ActionSurface     ActionKind = "surface"
)

// Action is what Handle returns; the scheduler interprets it per §4.6.
type Action struct {
	Kind              ActionKind
	AfterMs           time.Duration
	BlacklistDuration time.Duration
	Reason            string
}

// Strategy is the ErrorHandlingStrategy data-model record (spec §3).
type Strategy struct {
	Action            ActionKind
	RetryCount        int
	RetryDelay        time.Duration
	BlacklistDuration time.Duration
	ShouldDestroy     bool
}

// defaultTable is the minimum required code -> action mapping from
// spec §4.1, shipped with the process.
var defaultTable = map[schedulererrors.Code]Strategy{
	schedulererrors.CodeExecutionTimeout:     {Action: ActionRetry, RetryCount: 2, RetryDelay: 100 * time.Millisecond},
	schedulererrors.CodeConnectionFailed:     {Action: ActionRetry, RetryCount: 3, RetryDelay: 200 * time.Millisecond},
	schedulererrors.CodeAuthenticationFailed: {Action: ActionMaintenance},
	schedulererrors.CodeRateLimitExceeded:    {Action: ActionBlacklist, BlacklistDuration: 60 * time.Second},
	schedulererrors.CodeInvalidRequest:       {Action: ActionIgnore},
	schedulererrors.CodePipelineInitFailed:   {Action: ActionDestroy, ShouldDestroy: true},
	schedulererrors.CodeSystemFatal:          {Action: ActionDestroy, ShouldDestroy: true},
}

// Center classifies failures and returns actions. Lookup precedence
// (spec §4.5): custom handler for the code -> user-configured override
// -> default table -> fallback surface.
type Center struct {
	retryCfg    RetryConfig
	pipelineCfg map[string]RetryConfig // pipelineId -> per-pipeline override of retryCfg (spec §3 RetryPolicy)
	metrics     metrics.Collector

	custom    map[schedulererrors.Code]func(*schedulererrors.PipelineError) Action
	overrides map[schedulererrors.Code]Strategy
	table     map[schedulererrors.Code]Strategy

	attempts map[schedulererrors.Code]int // per-code counters (stateless aside from these)
}

func NewCenter(retryCfg RetryConfig, collector metrics.Collector) *Center {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	table := make(map[schedulererrors.Code]Strategy, len(defaultTable))
	for k, v := range defaultTable {
		table[k] = v
	}
	return &Center{
		retryCfg:    retryCfg,
		pipelineCfg: make(map[string]RetryConfig),
		metrics:     collector,
		custom:      make(map[schedulererrors.Code]func(*schedulererrors.PipelineError) Action),
		overrides:   make(map[schedulererrors.Code]Strategy),
		table:       table,
		attempts:    make(map[schedulererrors.Code]int),
	}
}

// SetPipelineRetryConfig installs pipelineId's own RetryPolicy-derived
// backoff shape, consulted by Handle ahead of the process-wide default
// so two pipelines with different maxDelay/backoffMultiplier/jitter
// actually back off differently (spec §3). Its baseDelay is used only
// when the code's strategy sets no RetryDelay; the retry number itself
// is bounded by the scheduler, not by RetryConfig.
func (c *Center) SetPipelineRetryConfig(pipelineID string, cfg RetryConfig) {
	c.pipelineCfg[pipelineID] = cfg
}

// RegisterHandler installs a user-registered custom handler for a code,
// the highest-precedence entry. Safe to call while traffic flows.
func (c *Center) RegisterHandler(code schedulererrors.Code, fn func(*schedulererrors.PipelineError) Action) {
	c.custom[code] = fn
}

// Override installs a user-configured strategy table entry for a code,
// the second-highest precedence.
func (c *Center) Override(code schedulererrors.Code, s Strategy) {
	c.overrides[code] = s
}

// Handle classifies err and returns the Action the scheduler applies.
// attempt is the zero-based retry attempt count for this logical
// request, used to compute exponential backoff.
func (c *Center) Handle(err error, attempt int) Action {
	pe, ok := err.(*schedulererrors.PipelineError)
	if !ok {
		return Action{Kind: ActionSurface, Reason: "unclassified error"}
	}

	c.metrics.IncCounter("errorhandler_classified_total", map[string]string{"code": pe.Code.String()})

	if fn, ok := c.custom[pe.Code]; ok {
		return fn(pe)
	}

	strategy, ok := c.overrides[pe.Code]
	if !ok {
		strategy, ok = c.table[pe.Code]
	}
	if !ok {
		return Action{Kind: ActionSurface, Reason: "no strategy for code"}
	}

	switch strategy.Action {
	case ActionRetry:
		if attempt >= strategy.RetryCount {
			return Action{Kind: ActionFailover, Reason: "retry budget exhausted for code"}
		}
		delay := c.backoff(strategy, attempt, pe.PipelineID)
		return Action{Kind: ActionRetry, AfterMs: delay, Reason: pe.Message}
	case ActionBlacklist:
		return Action{Kind: ActionBlacklist, BlacklistDuration: strategy.BlacklistDuration, Reason: pe.Message}
	case ActionMaintenance:
		return Action{Kind: ActionMaintenance, Reason: pe.Message}
	case ActionDestroy:
		return Action{Kind: ActionDestroy, Reason: pe.Message}
	case ActionIgnore:
		return Action{Kind: ActionSurface, Reason: pe.Message}
	default:
		return Action{Kind: ActionSurface, Reason: pe.Message}
	}
}

// backoff computes delay = min(base * multiplier^attempt + jitter,
// maxDelay); jitter in [0, delay/2] when enabled (spec §4.5). The
// base/max/multiplier/jitter shape comes from pipelineID's own
// RetryPolicy when one was registered, else the process-wide default.
func (c *Center) backoff(strategy Strategy, attempt int, pipelineID string) time.Duration {
	cfg := c.retryCfg
	if pc, ok := c.pipelineCfg[pipelineID]; ok {
		cfg = pc
	}
	base := strategy.RetryDelay
	if base <= 0 {
		base = cfg.BaseDelay
	}
	return computeBackoff(base, cfg.MaxDelay, cfg.Multiplier, cfg.JitterEnabled, attempt)
}
