package balancer

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jasonzhangf/pipeline-scheduler/pipeline"
)

// Prober paces health-check probing so that, with the scheduler sizing
// it at one token per instance per health-check interval, probing never
// exceeds one probe per instance per interval in aggregate, using a token bucket
// the way the alert-history-service example paces outbound backoff
// retries with golang.org/x/time/rate rather than a hand-rolled
// ticker-per-instance.
type Prober struct {
	limiter *rate.Limiter
}

// NewProber allows at most 1/interval probes per second, bursting up
// to burst in one go (e.g. right after startup, when every instance's
// first probe is due at once).
func NewProber(interval time.Duration, burst int) *Prober {
	if interval <= 0 {
		interval = time.Second
	}
	if burst < 1 {
		burst = 1
	}
	return &Prober{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// Probe blocks until the limiter admits this instance's health check,
// then runs it. Returns ctx.Err() if the context is cancelled first.
func (p *Prober) Probe(ctx context.Context, inst *pipeline.Instance) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	inst.PerformHealthCheck(ctx)
	return nil
}
