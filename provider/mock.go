package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockAdapter is a deterministic Adapter for tests, grounded on
// ai/providers/mock/provider.go's canned-response pattern. It can be
// scripted to fail its next N executions, which the scheduler/balancer
// test suites use to exercise the retry/failover/blacklist paths
// without a real upstream.
type MockAdapter struct {
	Name string

	failNext  atomic.Int32
	healthy   atomic.Bool
	destroyed atomic.Bool
}

func NewMockAdapter(name string) *MockAdapter {
	m := &MockAdapter{Name: name}
	m.healthy.Store(true)
	return m
}

// FailNext scripts the next n Execute calls to return an error.
func (m *MockAdapter) FailNext(n int) { m.failNext.Store(int32(n)) }

// SetHealthy controls what HealthCheck reports.
func (m *MockAdapter) SetHealthy(healthy bool) { m.healthy.Store(healthy) }

func (m *MockAdapter) Initialize(ctx context.Context) error { return nil }

func (m *MockAdapter) Execute(ctx context.Context, payload interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if m.failNext.Load() > 0 {
		m.failNext.Add(-1)
		return nil, fmt.Errorf("mock adapter %s: scripted failure", m.Name)
	}
	return payload, nil
}

func (m *MockAdapter) Destroy(ctx context.Context) error {
	m.destroyed.Store(true)
	return nil
}

func (m *MockAdapter) HealthCheck(ctx context.Context) bool { return m.healthy.Load() }

// MockFactory builds MockAdapters; DetectEnvironment always reports
// available so tests don't need real credentials configured.
type MockFactory struct{}

func (MockFactory) Name() string     { return "mock" }
func (MockFactory) Priority() int    { return 0 }
func (MockFactory) Create(customConfig map[string]interface{}) (Adapter, error) {
	name, _ := customConfig["name"].(string)
	if name == "" {
		name = "mock"
	}
	return NewMockAdapter(name), nil
}
func (MockFactory) DetectEnvironment() (int, bool) { return 0, true }
