// Package provider defines the ProviderAdapter collaborator from spec
// §6 and ships reference implementations. The wire protocol of any
// real upstream is explicitly out of scope; mock and http here exist
// so the rest of the module has something concrete to execute and
// test against, grounded on the teacher's provider-registry pattern
// (ai/providers/anthropic/factory.go) generalized from AI-client
// selection to pipeline-instance provider selection.
package provider

import "context"

// Adapter is the "hook" behind a PipelineInstance (spec §6).
type Adapter interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, payload interface{}) (interface{}, error)
	Destroy(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}

// Factory builds an Adapter for one PipelineConfig.Type and can report
// whether its upstream appears configured in the current environment,
// the way the teacher's ai.Factory.DetectEnvironment steers which AI
// provider is preferred when more than one is available.
type Factory interface {
	Name() string
	Priority() int
	Create(customConfig map[string]interface{}) (Adapter, error)
	DetectEnvironment() (priority int, available bool)
}
