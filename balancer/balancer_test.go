package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzhangf/pipeline-scheduler/blacklist"
	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
	"github.com/jasonzhangf/pipeline-scheduler/provider"
)

func readyInstance(t *testing.T, pipelineID string, weight int) *pipeline.Instance {
	t.Helper()
	adapter := provider.NewMockAdapter(pipelineID)
	inst := pipeline.New(pipeline.Config{PipelineID: pipelineID, Weight: weight, Timeout: time.Second}, adapter, nil)
	require.NoError(t, inst.Initialize(context.Background()))
	inst.Enable()
	inst.PerformHealthCheck(context.Background())
	return inst
}

func newTestBalancer(t *testing.T, strategy Strategy) *Balancer {
	t.Helper()
	bl := blacklist.New(blacklist.Config{Enabled: true, MaxEntries: 10, CleanupInterval: time.Hour, MaxBlacklistDuration: time.Hour}, logging.NoOp{}, metrics.NoOp{})
	t.Cleanup(bl.Stop)
	return New(strategy, bl, metrics.NoOp{})
}

func TestScenarioOneRoundRobinDeterministic(t *testing.T) {
	a := readyInstance(t, "a", 1)
	b := readyInstance(t, "b", 1)
	instances := []*pipeline.Instance{a, b}
	if b.InstanceID < a.InstanceID {
		instances = []*pipeline.Instance{b, a}
	}
	// sortedByID always orders lexicographically regardless of input order.
	sorted := sortedByID(instances)
	first, second := sorted[0], sorted[1]

	bal := newTestBalancer(t, NewRoundRobin())
	selections := make([]*pipeline.Instance, 4)
	for i := range selections {
		selections[i] = bal.Select(instances)
	}

	assert.Equal(t, first, selections[0])
	assert.Equal(t, second, selections[1])
	assert.Equal(t, first, selections[2])
	assert.Equal(t, second, selections[3])
}

func TestSelectFiltersBlacklisted(t *testing.T) {
	a := readyInstance(t, "a", 1)
	b := readyInstance(t, "b", 1)

	bl := blacklist.New(blacklist.Config{Enabled: true, MaxEntries: 10, CleanupInterval: time.Hour, MaxBlacklistDuration: time.Hour}, logging.NoOp{}, metrics.NoOp{})
	defer bl.Stop()
	bl.Add("a", time.Minute, "blacklisted")

	bal := New(NewRoundRobin(), bl, metrics.NoOp{})
	for i := 0; i < 4; i++ {
		selected := bal.Select([]*pipeline.Instance{a, b})
		require.NotNil(t, selected)
		assert.Equal(t, "b", selected.PipelineID)
	}
}

func TestSelectReturnsNilWhenNoneHealthy(t *testing.T) {
	a := readyInstance(t, "a", 1)
	a.Disable()

	bal := newTestBalancer(t, NewRoundRobin())
	assert.Nil(t, bal.Select([]*pipeline.Instance{a}))
}

func TestDispatchAndRecordBalanceConnections(t *testing.T) {
	a := readyInstance(t, "a", 1)
	bal := newTestBalancer(t, NewLeastConnections())

	Dispatch(a)
	assert.Equal(t, 1, a.CurrentConnections())

	bal.RecordSuccess(a, 10*time.Millisecond)
	assert.Equal(t, 0, a.CurrentConnections())
}

func TestLeastConnectionsPicksFewestConnections(t *testing.T) {
	a := readyInstance(t, "a", 1)
	b := readyInstance(t, "b", 1)

	Dispatch(a)
	Dispatch(a) // a has 2 connections, b has 0

	lc := NewLeastConnections()
	selected := lc.Select([]*pipeline.Instance{a, b})
	assert.Equal(t, "b", selected.PipelineID)
}

func TestWeightedFairnessConverges(t *testing.T) {
	a := readyInstance(t, "a", 3)
	b := readyInstance(t, "b", 1)
	w := NewWeighted()

	counts := map[string]int{}
	const n = 4000
	for i := 0; i < n; i++ {
		selected := w.Select([]*pipeline.Instance{a, b})
		counts[selected.PipelineID]++
	}

	ratioA := float64(counts["a"]) / float64(n)
	assert.InDelta(t, 0.75, ratioA, 0.05)
}

func TestRandomSelectsFromInputSetOnly(t *testing.T) {
	a := readyInstance(t, "a", 1)
	b := readyInstance(t, "b", 1)
	r := NewRandom()

	for i := 0; i < 20; i++ {
		selected := r.Select([]*pipeline.Instance{a, b})
		assert.Contains(t, []string{"a", "b"}, selected.PipelineID)
	}
}

func TestRecordOutcomePublishesConnectionGaugeAndLatency(t *testing.T) {
	a := readyInstance(t, "a", 1)
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg)

	bl := blacklist.New(blacklist.Config{Enabled: true, MaxEntries: 10, CleanupInterval: time.Hour, MaxBlacklistDuration: time.Hour}, logging.NoOp{}, metrics.NoOp{})
	defer bl.Stop()
	bal := New(NewRoundRobin(), bl, collector)

	Dispatch(a)
	bal.RecordSuccess(a, 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	var sawGauge, sawHistogram, sawSelectionCounter bool
	bal.Select([]*pipeline.Instance{a})
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		switch f.GetName() {
		case "scheduler_pipeline_current_connections":
			sawGauge = true
		case "scheduler_pipeline_response_time_seconds":
			sawHistogram = true
		case "scheduler_balancer_selection_total":
			sawSelectionCounter = true
		}
	}
	assert.True(t, sawGauge, "expected connection gauge to be published")
	assert.True(t, sawHistogram, "expected latency histogram to be published")
	assert.True(t, sawSelectionCounter, "expected selection counter to be published")
}

func TestProberRunsHealthCheckUnderRateLimit(t *testing.T) {
	a := readyInstance(t, "a", 1)
	p := NewProber(5*time.Millisecond, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, p.Probe(ctx, a))
}
