package balancer

import (
	"sync/atomic"
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// RoundRobin is a cyclic index over the filtered set with deterministic
// tie-break by instanceId (achieved by always selecting against an
// id-sorted view).
type RoundRobin struct {
	idx   atomic.Uint64
	stats *connStats
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{stats: newConnStats()}
}

func (r *RoundRobin) Name() string { return "roundrobin" }

func (r *RoundRobin) Select(instances []*pipeline.Instance) *pipeline.Instance {
	if len(instances) == 0 {
		return nil
	}
	sorted := sortedByID(instances)
	i := r.idx.Add(1) - 1
	return sorted[int(i%uint64(len(sorted)))]
}

func (r *RoundRobin) RecordSuccess(instanceID string, rt time.Duration) { r.stats.record(instanceID, rt) }
func (r *RoundRobin) RecordFailure(instanceID string, rt time.Duration) { r.stats.record(instanceID, rt) }
