package errorhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	schedulererrors "github.com/jasonzhangf/pipeline-scheduler/errors"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
)

func newTestCenter() *Center {
	return NewCenter(DefaultRetryConfig(), metrics.NoOp{})
}

func TestHandleUnclassifiedErrorSurfaces(t *testing.T) {
	c := newTestCenter()
	action := c.Handle(assert.AnError, 0)
	assert.Equal(t, ActionSurface, action.Kind)
}

func TestHandleTimeoutRetriesThenFailsOver(t *testing.T) {
	c := newTestCenter()
	err := schedulererrors.New(schedulererrors.CodeExecutionTimeout, "deadline exceeded")

	action := c.Handle(err, 0)
	assert.Equal(t, ActionRetry, action.Kind)
	assert.Greater(t, action.AfterMs, time.Duration(0))

	action = c.Handle(err, 1)
	assert.Equal(t, ActionRetry, action.Kind)

	// default table gives CodeExecutionTimeout RetryCount=2
	action = c.Handle(err, 2)
	assert.Equal(t, ActionFailover, action.Kind)
}

func TestHandleRateLimitBlacklists(t *testing.T) {
	c := newTestCenter()
	err := schedulererrors.New(schedulererrors.CodeRateLimitExceeded, "429")

	action := c.Handle(err, 0)
	assert.Equal(t, ActionBlacklist, action.Kind)
	assert.Equal(t, 60*time.Second, action.BlacklistDuration)
}

func TestHandleAuthFailureTriggersMaintenance(t *testing.T) {
	c := newTestCenter()
	err := schedulererrors.New(schedulererrors.CodeAuthenticationFailed, "401")

	action := c.Handle(err, 0)
	assert.Equal(t, ActionMaintenance, action.Kind)
}

func TestHandleInitFailureDestroys(t *testing.T) {
	c := newTestCenter()
	err := schedulererrors.New(schedulererrors.CodePipelineInitFailed, "boom")

	action := c.Handle(err, 0)
	assert.Equal(t, ActionDestroy, action.Kind)
}

func TestCustomHandlerTakesPrecedenceOverOverride(t *testing.T) {
	c := newTestCenter()
	c.Override(schedulererrors.CodeRateLimitExceeded, Strategy{Action: ActionBlacklist, BlacklistDuration: 5 * time.Second})
	c.RegisterHandler(schedulererrors.CodeRateLimitExceeded, func(pe *schedulererrors.PipelineError) Action {
		return Action{Kind: ActionMaintenance, Reason: "custom"}
	})

	err := schedulererrors.New(schedulererrors.CodeRateLimitExceeded, "429")
	action := c.Handle(err, 0)
	assert.Equal(t, ActionMaintenance, action.Kind)
	assert.Equal(t, "custom", action.Reason)
}

func TestOverrideTakesPrecedenceOverDefaultTable(t *testing.T) {
	c := newTestCenter()
	c.Override(schedulererrors.CodeRateLimitExceeded, Strategy{Action: ActionMaintenance})

	err := schedulererrors.New(schedulererrors.CodeRateLimitExceeded, "429")
	action := c.Handle(err, 0)
	assert.Equal(t, ActionMaintenance, action.Kind)
}

func TestPerPipelineRetryConfigYieldsDifferentBackoff(t *testing.T) {
	c := newTestCenter()
	c.SetPipelineRetryConfig("fast", RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2, JitterEnabled: false})
	c.SetPipelineRetryConfig("slow", RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Hour, Multiplier: 2, JitterEnabled: false})

	// CodeExecutionTimeout's default-table RetryDelay (100ms) is the
	// base for both, but maxDelay differs per pipeline, so the same
	// code backs off differently depending on which pipeline failed.
	fastErr := schedulererrors.New(schedulererrors.CodeExecutionTimeout, "timeout", schedulererrors.WithPipelineID("fast"))
	slowErr := schedulererrors.New(schedulererrors.CodeExecutionTimeout, "timeout", schedulererrors.WithPipelineID("slow"))

	fastAction := c.Handle(fastErr, 0)
	slowAction := c.Handle(slowErr, 0)

	assert.Equal(t, time.Millisecond, fastAction.AfterMs, "fast pipeline's 1ms maxDelay should clamp the backoff")
	assert.Equal(t, 100*time.Millisecond, slowAction.AfterMs, "slow pipeline's 1h maxDelay should never clamp the backoff")
}

func TestComputeBackoffRespectsMaxDelay(t *testing.T) {
	d := computeBackoff(time.Second, 2*time.Second, 10.0, false, 5)
	assert.Equal(t, 2*time.Second, d)
}

func TestComputeBackoffGrowsExponentially(t *testing.T) {
	d0 := computeBackoff(100*time.Millisecond, time.Hour, 2.0, false, 0)
	d1 := computeBackoff(100*time.Millisecond, time.Hour, 2.0, false, 1)
	d2 := computeBackoff(100*time.Millisecond, time.Hour, 2.0, false, 2)

	assert.Equal(t, 100*time.Millisecond, d0)
	assert.Equal(t, 200*time.Millisecond, d1)
	assert.Equal(t, 400*time.Millisecond, d2)
}

func TestComputeBackoffJitterStaysWithinBound(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := computeBackoff(100*time.Millisecond, time.Hour, 2.0, true, 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
