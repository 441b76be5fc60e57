// Package balancer implements the pluggable Load Balancer from spec
// §4.4: a small capability set (select, recordSuccess, recordFailure,
// name) with four required strategies; there is no separate
// updateMetrics call, strategies only see the response times passed to
// recordSuccess/recordFailure. It is modeled as
// spec §9 describes — a factory builds the active strategy from a
// configuration tag, the same shape as the teacher's provider registry
// (ai/providers/anthropic/factory.go) generalized from "pick an AI
// provider" to "pick a pipeline instance".
package balancer

import (
	"sort"
	"sync"
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/blacklist"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// Strategy is the common contract every selection algorithm implements.
type Strategy interface {
	Name() string
	Select(instances []*pipeline.Instance) *pipeline.Instance
	RecordSuccess(instanceID string, responseTime time.Duration)
	RecordFailure(instanceID string, responseTime time.Duration)
}

// Balancer filters candidates to healthy, non-blacklisted instances
// and delegates the actual pick to the active Strategy. It also backs
// the selection/connection gauges and latency histogram SPEC_FULL §11
// asks the Prometheus collector to serve.
type Balancer struct {
	strategy  Strategy
	blacklist *blacklist.Blacklist
	metrics   metrics.Collector
}

func New(strategy Strategy, bl *blacklist.Blacklist, collector metrics.Collector) *Balancer {
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &Balancer{strategy: strategy, blacklist: bl, metrics: collector}
}

// Select filters instances to isHealthy() && !blacklisted, then
// delegates to the active strategy. Returns nil if the filtered set is
// empty — never an instance absent from the input set.
func (b *Balancer) Select(instances []*pipeline.Instance) *pipeline.Instance {
	candidates := make([]*pipeline.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.IsHealthy() && !b.blacklist.IsBlacklisted(inst.PipelineID) {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	selected := b.strategy.Select(candidates)
	if selected != nil {
		b.metrics.IncCounter("balancer_selection_total", map[string]string{
			"pipeline_id": selected.PipelineID, "strategy": b.strategy.Name(),
		})
	}
	return selected
}

// RecordSuccess/RecordFailure decrement currentConnections (incremented
// by Dispatch) exactly once per completion, forward the observation to the active
// strategy's own rolling stats, and publish the resulting connection
// gauge plus latency histogram.
func (b *Balancer) RecordSuccess(inst *pipeline.Instance, responseTime time.Duration) {
	inst.DecConnections()
	b.strategy.RecordSuccess(inst.InstanceID, responseTime)
	b.observe(inst, responseTime, "success")
}

func (b *Balancer) RecordFailure(inst *pipeline.Instance, responseTime time.Duration) {
	inst.DecConnections()
	b.strategy.RecordFailure(inst.InstanceID, responseTime)
	b.observe(inst, responseTime, "failure")
}

func (b *Balancer) observe(inst *pipeline.Instance, responseTime time.Duration, outcome string) {
	labels := map[string]string{"pipeline_id": inst.PipelineID}
	b.metrics.SetGauge("pipeline_current_connections", float64(inst.CurrentConnections()), labels)
	b.metrics.ObserveLatency("pipeline_response_time_seconds", responseTime.Seconds(),
		map[string]string{"pipeline_id": inst.PipelineID, "outcome": outcome})
}

// Dispatch increments currentConnections before a select'd instance is
// handed to the scheduler's attempt loop; callers must pair every
// Dispatch with exactly one RecordSuccess or RecordFailure.
func Dispatch(inst *pipeline.Instance) {
	inst.IncConnections()
}

// FactoryFor builds the Strategy named by a configuration tag
// ("roundrobin", "weighted", "least_connections", "random").
func FactoryFor(name string) Strategy {
	switch name {
	case "roundrobin", "round_robin":
		return NewRoundRobin()
	case "least_connections":
		return NewLeastConnections()
	case "random":
		return NewRandom()
	case "weighted":
		fallthrough
	default:
		return NewWeighted()
	}
}

// connStats records the last reported response time per instance for a
// strategy. Connection counts are not kept here; they live on the
// pipeline.Instance (IncConnections/DecConnections).
type connStats struct {
	mu           sync.Mutex
	responseTime map[string]time.Duration
}

func newConnStats() *connStats {
	return &connStats{responseTime: make(map[string]time.Duration)}
}

func (c *connStats) record(instanceID string, rt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseTime[instanceID] = rt
}

func (c *connStats) get(instanceID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseTime[instanceID]
}

func sortedByID(instances []*pipeline.Instance) []*pipeline.Instance {
	out := make([]*pipeline.Instance, len(instances))
	copy(out, instances)
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}
