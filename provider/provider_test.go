package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateUnknownTypeErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nope", nil)
	assert.Error(t, err)
}

func TestRegistryCreateBuildsFromFactory(t *testing.T) {
	r := NewRegistry()
	r.Register(MockFactory{})

	a, err := r.Create("mock", map[string]interface{}{"name": "foo"})
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))
}

func TestRegistryDetectedOrdersByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(MockFactory{})
	r.Register(HTTPFactory{})

	names := r.Detected()
	// HTTPFactory.DetectEnvironment always reports unavailable, so only
	// mock (priority 0, always available) should be detected.
	assert.Equal(t, []string{"mock"}, names)
}

func TestMockAdapterScriptedFailure(t *testing.T) {
	a := NewMockAdapter("x")
	a.FailNext(1)

	_, err := a.Execute(context.Background(), "payload")
	assert.Error(t, err)

	result, err := a.Execute(context.Background(), "payload")
	assert.NoError(t, err)
	assert.Equal(t, "payload", result)
}

func TestMockAdapterHealthCheckReflectsSetHealthy(t *testing.T) {
	a := NewMockAdapter("x")
	assert.True(t, a.HealthCheck(context.Background()))

	a.SetHealthy(false)
	assert.False(t, a.HealthCheck(context.Background()))
}

func TestHTTPFactoryRequiresBaseURL(t *testing.T) {
	f := HTTPFactory{}
	_, err := f.Create(nil)
	assert.Error(t, err)
}
