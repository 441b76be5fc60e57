package balancer

import (
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// LeastConnections picks the minimum of the balancer's
// currentConnections counter, tying on lowest averageResponseTime.
type LeastConnections struct {
	stats *connStats
}

func NewLeastConnections() *LeastConnections {
	return &LeastConnections{stats: newConnStats()}
}

func (l *LeastConnections) Name() string { return "least_connections" }

func (l *LeastConnections) Select(instances []*pipeline.Instance) *pipeline.Instance {
	if len(instances) == 0 {
		return nil
	}
	sorted := sortedByID(instances)
	best := sorted[0]
	for _, inst := range sorted[1:] {
		if inst.CurrentConnections() < best.CurrentConnections() {
			best = inst
			continue
		}
		if inst.CurrentConnections() == best.CurrentConnections() &&
			inst.AverageResponseTime() < best.AverageResponseTime() {
			best = inst
		}
	}
	return best
}

func (l *LeastConnections) RecordSuccess(instanceID string, rt time.Duration) { l.stats.record(instanceID, rt) }
func (l *LeastConnections) RecordFailure(instanceID string, rt time.Duration) { l.stats.record(instanceID, rt) }
