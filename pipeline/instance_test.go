package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzhangf/pipeline-scheduler/provider"
)

func newTestInstance(t *testing.T) (*Instance, *provider.MockAdapter) {
	t.Helper()
	adapter := provider.NewMockAdapter("test")
	inst := New(Config{PipelineID: "p1", Weight: 2, Timeout: time.Second}, adapter, nil)
	require.NoError(t, inst.Initialize(context.Background()))
	inst.Enable()
	return inst, adapter
}

func TestInitializeTransitionsToReady(t *testing.T) {
	inst, _ := newTestInstance(t)
	assert.Equal(t, StateReady, inst.State())
	assert.True(t, inst.IsReady())
}

func TestInitializeFailurePropagatesError(t *testing.T) {
	inst := New(Config{PipelineID: "p1", Weight: 1, Timeout: time.Second}, &failingAdapter{}, nil)
	err := inst.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, inst.State())
}

// failingAdapter always fails Initialize; every other method is
// promoted from MockAdapter unused in this test.
type failingAdapter struct{ provider.MockAdapter }

func (f *failingAdapter) Initialize(ctx context.Context) error { return context.DeadlineExceeded }

func TestExecuteSuccessUpdatesMetrics(t *testing.T) {
	inst, _ := newTestInstance(t)

	result, err := inst.Execute(context.Background(), "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, StateReady, inst.State())

	m := inst.SnapshotMetrics()
	assert.Equal(t, int64(1), m.RequestCount)
	assert.Equal(t, int64(0), m.ErrorCount)
	assert.Equal(t, float64(1), m.SuccessRate)
}

func TestExecuteFailureIncrementsConsecutiveErrors(t *testing.T) {
	inst, adapter := newTestInstance(t)
	adapter.FailNext(1)

	_, err := inst.Execute(context.Background(), "payload")
	require.Error(t, err)
	assert.Equal(t, StateError, inst.State())

	m := inst.SnapshotMetrics()
	assert.Equal(t, int64(1), m.ErrorCount)
	assert.Equal(t, int32(1), m.ConsecutiveErrors)
}

func TestScenarioTwoTransientFailureThenSuccess(t *testing.T) {
	inst, adapter := newTestInstance(t)
	adapter.FailNext(2)

	for i := 0; i < 2; i++ {
		_, err := inst.Execute(context.Background(), "p")
		assert.Error(t, err)
		// Execute requires Ready; manually restore since the scheduler
		// would normally retry by re-selecting a Ready instance via the
		// state machine reset that happens on the next attempt cycle.
		inst.setState(StateReady)
	}
	result, err := inst.Execute(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "p", result)

	m := inst.SnapshotMetrics()
	assert.Equal(t, int64(3), m.RequestCount)
	assert.Equal(t, int64(2), m.ErrorCount)
	assert.InDelta(t, 1.0/3.0, m.SuccessRate, 0.0001)
}

func TestHealthCheckClassification(t *testing.T) {
	inst, adapter := newTestInstance(t)

	inst.PerformHealthCheck(context.Background())
	assert.Equal(t, HealthHealthy, inst.Health())

	adapter.SetHealthy(false)
	for i := 0; i < 4; i++ {
		inst.PerformHealthCheck(context.Background())
	}
	assert.Equal(t, HealthUnhealthy, inst.Health())
	assert.False(t, inst.IsHealthy())
}

func TestEnableDisableRoundTrip(t *testing.T) {
	inst, _ := newTestInstance(t)
	before := inst.State()

	inst.Enable()
	inst.Disable()
	inst.Enable()

	assert.Equal(t, before, inst.State())
}

func TestSetMaintenanceRoundTrip(t *testing.T) {
	inst, _ := newTestInstance(t)

	inst.SetMaintenance(true)
	assert.Equal(t, StateMaintenance, inst.State())
	assert.True(t, inst.InMaintenance())

	inst.SetMaintenance(false)
	assert.Equal(t, StateReady, inst.State())
	assert.False(t, inst.InMaintenance())
}

func TestConnectionsNeverGoNegative(t *testing.T) {
	inst, _ := newTestInstance(t)
	inst.DecConnections()
	assert.Equal(t, 0, inst.CurrentConnections())

	inst.IncConnections()
	inst.IncConnections()
	inst.DecConnections()
	assert.Equal(t, 1, inst.CurrentConnections())
}

func TestDestroyIsTerminal(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.Destroy(context.Background()))
	assert.Equal(t, StateDestroyed, inst.State())
}

func TestWeightDefaultsToOne(t *testing.T) {
	inst := New(Config{PipelineID: "p1"}, provider.NewMockAdapter("x"), nil)
	assert.Equal(t, 1, inst.Weight())
}
