// Package metrics provides the scheduler's MetricsCollector, backed by
// github.com/prometheus/client_golang rather than the OpenTelemetry
// metric instruments the teacher's resilience package reaches for —
// the teacher's own telemetry.MetricInstruments type is never defined
// in the retrieved pack, so this collector is built directly against
// Prometheus the way the alert-history-service example registers its
// counters/gauges/histograms at construction time.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the narrow surface every scheduler component records
// through: per-error-code counters, instance gauges, selection/latency
// histograms, and circuit-breaker state changes.
type Collector interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, seconds float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	RecordStateChange(pipelineID, from, to string)
}

// Prometheus is the default Collector implementation. It registers a
// small fixed set of metric families and tracks per-name/per-label
// vectors created lazily so new pipeline/instance label values don't
// require a code change.
type Prometheus struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus builds a Collector registered against reg, or against
// a fresh registry when reg is nil.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Prometheus{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying prometheus.Registry so cmd/schedulerd
// can mount it behind promhttp.Handler.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cv, ok := p.counters[name]; ok {
		return cv
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metricName(name)}, labelNames)
	p.registry.MustRegister(cv)
	p.counters[name] = cv
	return cv
}

func (p *Prometheus) gaugeVec(name string, labelNames []string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gv, ok := p.gauges[name]; ok {
		return gv
	}
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: metricName(name)}, labelNames)
	p.registry.MustRegister(gv)
	p.gauges[name] = gv
	return gv
}

func (p *Prometheus) histogramVec(name string, labelNames []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hv, ok := p.histograms[name]; ok {
		return hv
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName(name),
		Buckets: prometheus.DefBuckets,
	}, labelNames)
	p.registry.MustRegister(hv)
	p.histograms[name] = hv
	return hv
}

func (p *Prometheus) IncCounter(name string, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.counterVec(name, keys).WithLabelValues(values...).Inc()
}

func (p *Prometheus) ObserveLatency(name string, seconds float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.histogramVec(name, keys).WithLabelValues(values...).Observe(seconds)
}

func (p *Prometheus) SetGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.gaugeVec(name, keys).WithLabelValues(values...).Set(value)
}

func (p *Prometheus) RecordStateChange(pipelineID, from, to string) {
	p.IncCounter("pipeline_state_change_total", map[string]string{
		"pipeline_id": pipelineID, "from": from, "to": to,
	})
}

func metricName(name string) string {
	return "scheduler_" + name
}

func splitLabels(labels map[string]string) (keys []string, values []string) {
	keys = make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	// Stable order so repeated calls with the same label set hit the
	// same WithLabelValues cache entry inside the CounterVec.
	sortStrings(keys)
	values = make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// NoOp discards everything; used in tests that don't care about metrics.
type NoOp struct{}

func (NoOp) IncCounter(string, map[string]string)                 {}
func (NoOp) ObserveLatency(string, float64, map[string]string)    {}
func (NoOp) SetGauge(string, float64, map[string]string)          {}
func (NoOp) RecordStateChange(string, string, string)             {}
