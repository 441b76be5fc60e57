package balancer

import (
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// Weighted implements smooth weighted round-robin: effective weight =
// configured_weight * health_factor (1.0 healthy / 0.5 degraded) *
// load_factor (max(0.1, 1 - current/10)) (spec §4.4). Each candidate
// accumulates its effective weight every selection; the candidate with
// the highest running total wins and has the sum of all effective
// weights subtracted from it, the classic smooth-WRR algorithm.
type Weighted struct {
	stats   *connStats
	current map[string]float64
}

func NewWeighted() *Weighted {
	return &Weighted{stats: newConnStats(), current: make(map[string]float64)}
}

func (w *Weighted) Name() string { return "weighted" }

func (w *Weighted) Select(instances []*pipeline.Instance) *pipeline.Instance {
	if len(instances) == 0 {
		return nil
	}

	type candidate struct {
		inst   *pipeline.Instance
		weight float64
	}

	candidates := make([]candidate, 0, len(instances))
	total := 0.0
	for _, inst := range instances {
		eff := effectiveWeight(inst)
		candidates = append(candidates, candidate{inst, eff})
		total += eff
	}

	var best *candidate
	bestTotal := -1.0
	for i := range candidates {
		id := candidates[i].inst.InstanceID
		w.current[id] += candidates[i].weight
		if w.current[id] > bestTotal {
			bestTotal = w.current[id]
			best = &candidates[i]
		}
	}
	w.current[best.inst.InstanceID] -= total
	return best.inst
}

func effectiveWeight(inst *pipeline.Instance) float64 {
	healthFactor := 1.0
	if inst.Health() == pipeline.HealthDegraded {
		healthFactor = 0.5
	}
	loadFactor := 1.0 - float64(inst.CurrentConnections())/10.0
	if loadFactor < 0.1 {
		loadFactor = 0.1
	}
	return float64(inst.Weight()) * healthFactor * loadFactor
}

func (w *Weighted) RecordSuccess(instanceID string, rt time.Duration) { w.stats.record(instanceID, rt) }
func (w *Weighted) RecordFailure(instanceID string, rt time.Duration) { w.stats.record(instanceID, rt) }
