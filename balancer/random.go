package balancer

import (
	"math/rand"
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// Random selects uniformly over the filtered set.
type Random struct {
	stats *connStats
	rng   *rand.Rand
}

func NewRandom() *Random {
	return &Random{stats: newConnStats(), rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Select(instances []*pipeline.Instance) *pipeline.Instance {
	if len(instances) == 0 {
		return nil
	}
	return instances[r.rng.Intn(len(instances))]
}

func (r *Random) RecordSuccess(instanceID string, rt time.Duration) { r.stats.record(instanceID, rt) }
func (r *Random) RecordFailure(instanceID string, rt time.Duration) { r.stats.record(instanceID, rt) }
