// Package plugin implements capability discovery, registration and
// dispatch for the GeneForge core. Capabilities are independently
// loaded implementations chained into a pipeline or addressed directly
// by name; one capability's failure never reaches its siblings.
package plugin

import (
	"context"
	"time"

	"geneforge/internal/types"
)

// Capability is the closed contract a plugin implements to participate
// in dispatch. Implementations support pipeline mode (Evaluate),
// method-dispatch mode (Execute), or both; the unsupported mode
// returns ErrEvaluateNotSupported or ErrUnknownMethod respectively.
type Capability interface {
	// Name uniquely identifies the plugin within a registry.
	Name() string

	// Activate prepares the plugin for dispatch. Called after
	// instantiation and when a disabled plugin is re-enabled.
	Activate() error

	// Deactivate releases resources when the plugin is disabled.
	Deactivate() error

	// Evaluate transforms a pipeline payload.
	Evaluate(ctx context.Context, text string) (string, error)

	// Execute routes a named method call. params requirements are
	// declared by the plugin; a missing required parameter returns
	// ErrMissingParameter.
	Execute(ctx context.Context, method string, params map[string]any, symbols *types.SymbolTable) (any, error)
}

// Factory instantiates a capability. Credentials carry declared
// constructor requirements (e.g. an API key for network-backed
// capabilities) satisfied from process configuration.
type Factory func(credentials map[string]string) (Capability, error)

// Instance tracks one registered capability and its activation state.
// The active flag is guarded by the owning registry's lock.
type Instance struct {
	capability Capability
	name       string
	source     string
	active     bool
	loadedAt   time.Time
}

// Name returns the plugin's registered name.
func (in *Instance) Name() string { return in.name }

// Source identifies where the instance was discovered from (static
// table or script path).
func (in *Instance) Source() string { return in.source }

// Capability returns the wrapped implementation.
func (in *Instance) Capability() Capability { return in.capability }

// LoadedAt returns when the instance was (re)discovered.
func (in *Instance) LoadedAt() time.Time { return in.loadedAt }
