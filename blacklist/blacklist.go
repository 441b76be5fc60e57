// Package blacklist implements the time-bounded exclusion set from
// spec §4.2: entries auto-expire, the set never permanently bars an
// instance, and reads are lock-free where the platform allows.
//
// Concurrency shape is grounded on the teacher's circuit breaker
// (resilience/circuit_breaker.go): atomic.Value for the hot read path,
// a short mutex only around the writes that mutate the entry map, and
// no I/O performed while that lock is held.
package blacklist

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
)

// Entry is the Blacklist Entry record from spec §3.
type Entry struct {
	PipelineID string
	Reason     string
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Config controls capacity and sweep cadence (spec §6 blacklistConfig).
type Config struct {
	Enabled                  bool
	MaxEntries               int
	CleanupInterval          time.Duration
	DefaultBlacklistDuration time.Duration
	MaxBlacklistDuration     time.Duration
}

// Blacklist is a multi-reader/single-writer time-bounded exclusion set.
type Blacklist struct {
	cfg    Config
	logger logging.Logger
	metrics metrics.Collector

	mu      sync.Mutex
	entries map[string]Entry

	// snapshot is swapped atomically on every write so IsBlacklisted
	// never takes the mutex on the read path.
	snapshot atomic.Value // map[string]Entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Blacklist and starts its cleanup sweeper. Callers must
// call Stop to release the sweeper goroutine.
func New(cfg Config, logger logging.Logger, collector metrics.Collector) *Blacklist {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if collector == nil {
		collector = metrics.NoOp{}
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Second
	}
	if cfg.DefaultBlacklistDuration <= 0 {
		cfg.DefaultBlacklistDuration = 60 * time.Second
	}
	if cfg.MaxBlacklistDuration <= 0 {
		cfg.MaxBlacklistDuration = 10 * time.Minute
	}

	b := &Blacklist{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		entries: make(map[string]Entry),
		stopCh:  make(chan struct{}),
	}
	b.snapshot.Store(map[string]Entry{})

	if cfg.Enabled {
		b.wg.Add(1)
		go b.sweepLoop()
	}
	return b
}

// Add inserts {pipelineId, reason, now, now+clamp(duration)}. If the
// set is at capacity, the entry with the earliest ExpiresAt is evicted
// first — never the newest.
func (b *Blacklist) Add(pipelineID string, duration time.Duration, reason string) {
	if !b.cfg.Enabled {
		return
	}
	duration = clamp(duration, 0, b.cfg.MaxBlacklistDuration)
	now := time.Now()
	entry := Entry{
		PipelineID: pipelineID,
		Reason:     reason,
		InsertedAt: now,
		ExpiresAt:  now.Add(duration),
	}

	b.mu.Lock()
	if len(b.entries) >= b.cfg.MaxEntries {
		if _, exists := b.entries[pipelineID]; !exists {
			b.evictEarliestLocked()
		}
	}
	b.entries[pipelineID] = entry
	b.publishLocked()
	b.mu.Unlock()

	b.logger.Info("pipeline blacklisted", map[string]interface{}{
		"pipeline_id": pipelineID,
		"reason":      reason,
		"duration_ms": duration.Milliseconds(),
	})
	b.metrics.IncCounter("blacklist_add_total", map[string]string{"pipeline_id": pipelineID})
}

// IsBlacklisted reports whether an unexpired entry exists. It reads
// the latest published snapshot without taking the write mutex.
func (b *Blacklist) IsBlacklisted(pipelineID string) bool {
	snap, _ := b.snapshot.Load().(map[string]Entry)
	entry, ok := snap[pipelineID]
	if !ok {
		return false
	}
	return time.Now().Before(entry.ExpiresAt)
}

// Remove lifts a blacklist entry. Idempotent: removing an absent or
// already-expired entry is a no-op, not an error.
func (b *Blacklist) Remove(pipelineID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[pipelineID]; !ok {
		return
	}
	delete(b.entries, pipelineID)
	b.publishLocked()
}

// Entries returns a snapshot of all unexpired entries, for observability.
func (b *Blacklist) Entries() []Entry {
	snap, _ := b.snapshot.Load().(map[string]Entry)
	now := time.Now()
	out := make([]Entry, 0, len(snap))
	for _, e := range snap {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

// Stop halts the cleanup sweeper. Safe to call more than once.
func (b *Blacklist) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Blacklist) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Blacklist) sweep() {
	now := time.Now()
	b.mu.Lock()
	removed := 0
	for id, e := range b.entries {
		if !now.Before(e.ExpiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	if removed > 0 {
		b.publishLocked()
	}
	b.mu.Unlock()
	if removed > 0 {
		b.logger.Debug("blacklist sweep removed expired entries", map[string]interface{}{"count": removed})
	}
}

// evictEarliestLocked drops the entry with the earliest ExpiresAt.
// Caller must hold b.mu.
func (b *Blacklist) evictEarliestLocked() {
	var earliestID string
	var earliest time.Time
	first := true
	for id, e := range b.entries {
		if first || e.ExpiresAt.Before(earliest) {
			earliestID, earliest = id, e.ExpiresAt
			first = false
		}
	}
	if earliestID != "" {
		delete(b.entries, earliestID)
	}
}

// publishLocked republishes the atomic snapshot. Caller must hold b.mu.
func (b *Blacklist) publishLocked() {
	next := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		next[k] = v
	}
	b.snapshot.Store(next)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
