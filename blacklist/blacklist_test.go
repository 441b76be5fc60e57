package blacklist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzhangf/pipeline-scheduler/logging"
	"github.com/jasonzhangf/pipeline-scheduler/metrics"
)

func newTestBlacklist(cfg Config) *Blacklist {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour // keep sweeper from racing assertions
	}
	return New(cfg, logging.NoOp{}, metrics.NoOp{})
}

func TestAddAndIsBlacklisted(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: true, MaxEntries: 10, MaxBlacklistDuration: time.Minute})
	defer b.Stop()

	b.Add("p1", 50*time.Millisecond, "rate limited")
	assert.True(t, b.IsBlacklisted("p1"))
	assert.False(t, b.IsBlacklisted("p2"))
}

func TestEntryExpiresAfterDuration(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: true, MaxEntries: 10, MaxBlacklistDuration: time.Minute})
	defer b.Stop()

	b.Add("p1", 10*time.Millisecond, "rate limited")
	require.True(t, b.IsBlacklisted("p1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsBlacklisted("p1"))
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: true, MaxEntries: 10, MaxBlacklistDuration: time.Minute})
	defer b.Stop()

	b.Remove("absent") // must not panic
	b.Add("p1", time.Minute, "x")
	b.Remove("p1")
	b.Remove("p1")
	assert.False(t, b.IsBlacklisted("p1"))
}

func TestDurationClampedToMaxBlacklistDuration(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: true, MaxEntries: 10, MaxBlacklistDuration: 100 * time.Millisecond})
	defer b.Stop()

	before := time.Now()
	b.Add("p1", time.Hour, "x")
	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.WithinDuration(t, before.Add(100*time.Millisecond), entries[0].ExpiresAt, 50*time.Millisecond)
}

func TestCapacityEvictsEarliestExpiring(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: true, MaxEntries: 2, MaxBlacklistDuration: time.Hour})
	defer b.Stop()

	b.Add("p1", 10*time.Millisecond, "x")
	b.Add("p2", time.Hour, "x")
	b.Add("p3", time.Hour, "x") // evicts p1 (earliest expiring)

	assert.False(t, b.IsBlacklisted("p1"))
	assert.True(t, b.IsBlacklisted("p2"))
	assert.True(t, b.IsBlacklisted("p3"))
	assert.LessOrEqual(t, len(b.Entries()), 2)
}

func TestDisabledBlacklistNeverBlocks(t *testing.T) {
	b := newTestBlacklist(Config{Enabled: false})
	defer b.Stop()

	b.Add("p1", time.Hour, "x")
	assert.False(t, b.IsBlacklisted("p1"))
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	b := New(Config{Enabled: true, MaxEntries: 10, CleanupInterval: 20 * time.Millisecond, MaxBlacklistDuration: time.Minute}, logging.NoOp{}, metrics.NoOp{})
	defer b.Stop()

	b.Add("p1", 5*time.Millisecond, "x")
	time.Sleep(80 * time.Millisecond)

	assert.Empty(t, b.Entries())
}
