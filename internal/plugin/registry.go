package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geneforge/internal/logging"
)

// LoadFailure records one candidate that could not be instantiated
// during discovery. Failures are isolated per candidate and never
// abort discovery of the remaining candidates.
type LoadFailure struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// DiscoveryReport summarizes one discovery pass.
type DiscoveryReport struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Loaded    []string      `json:"loaded"`
	Failures  []LoadFailure `json:"failures"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Registry discovers, instantiates and tracks capability instances.
// It persists for the process lifetime; discovery and reload take the
// write lock while dispatch reads snapshots, so no dispatch observes a
// half-updated registry.
type Registry struct {
	mu          sync.RWMutex
	instances   map[string]*Instance
	factories   map[string]Factory
	credentials map[string]string
}

// NewRegistry creates an empty registry. credentials satisfy declared
// constructor requirements of network-backed capabilities.
func NewRegistry(credentials map[string]string) *Registry {
	return &Registry{
		instances:   make(map[string]*Instance),
		factories:   make(map[string]Factory),
		credentials: credentials,
	}
}

// RegisterFactory adds a constructor to the static registration table.
// Registration is explicit: there is no reflective type-hierarchy
// discovery. Call Discover afterwards to instantiate.
func (r *Registry) RegisterFactory(name string, factory Factory) error {
	if name == "" {
		return ErrPluginNameEmpty
	}
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrFactoryNil, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	return nil
}

// MustRegisterFactory registers a factory and panics on error. Use for
// static registration at init time.
func (r *Registry) MustRegisterFactory(name string, factory Factory) {
	if err := r.RegisterFactory(name, factory); err != nil {
		panic(fmt.Sprintf("failed to register plugin factory %s: %v", name, err))
	}
}

// Discover instantiates every factory in the static registration
// table. Each candidate is attempted independently: a constructor
// error or panic is recorded in the report and discovery continues.
// Re-discovery of an existing name replaces the prior instance (hot
// reload) and preserves its activation state.
func (r *Registry) Discover() DiscoveryReport {
	start := time.Now()
	report := DiscoveryReport{
		ID:        uuid.NewString(),
		Source:    "static",
		StartedAt: start,
	}
	log := logging.For(logging.CategoryPlugins)

	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		capability, err := instantiate(r.factories[name], r.credentials)
		if err != nil {
			report.Failures = append(report.Failures, LoadFailure{
				Name:   name,
				Source: "static",
				Reason: err.Error(),
			})
			log.Warn("plugin instantiation failed",
				zap.String("plugin", name),
				zap.Error(err))
			continue
		}
		r.installLocked(name, "static", capability, &report)
	}

	report.Duration = time.Since(start)
	log.Info("discovery complete",
		zap.String("source", report.Source),
		zap.Int("loaded", len(report.Loaded)),
		zap.Int("failures", len(report.Failures)))
	return report
}

// instantiate runs a factory with panic containment so one broken
// constructor cannot abort discovery of its siblings.
func instantiate(factory Factory, credentials map[string]string) (capability Capability, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			capability = nil
			err = fmt.Errorf("constructor panic: %v", rec)
		}
	}()

	capability, err = factory(credentials)
	if err != nil {
		return nil, err
	}
	if capability == nil {
		return nil, fmt.Errorf("constructor returned nil capability")
	}
	return capability, nil
}

// installLocked places a freshly built capability into the registry,
// activating it and recording the outcome in the report. Requires the
// write lock.
func (r *Registry) installLocked(name, source string, capability Capability, report *DiscoveryReport) {
	active := true
	if prior, ok := r.instances[name]; ok {
		// Hot reload keeps the operator's enable/disable decision.
		active = prior.active
		_ = prior.capability.Deactivate()
	}

	if active {
		if err := capability.Activate(); err != nil {
			report.Failures = append(report.Failures, LoadFailure{
				Name:   name,
				Source: source,
				Reason: fmt.Sprintf("activation failed: %v", err),
			})
			return
		}
	}

	r.instances[name] = &Instance{
		capability: capability,
		name:       name,
		source:     source,
		active:     active,
		loadedAt:   time.Now(),
	}
	report.Loaded = append(report.Loaded, name)
}

// Enable marks a registered plugin active without re-running
// discovery. Enabling an already-active plugin is a no-op.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if in.active {
		return nil
	}
	if err := in.capability.Activate(); err != nil {
		return fmt.Errorf("failed to activate %s: %w", name, err)
	}
	in.active = true
	return nil
}

// Disable marks a registered plugin inactive without removing it.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.instances[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if !in.active {
		return nil
	}
	if err := in.capability.Deactivate(); err != nil {
		return fmt.Errorf("failed to deactivate %s: %w", name, err)
	}
	in.active = false
	return nil
}

// Active returns the active instances sorted by name, the
// deterministic pipeline order. The returned slice is a snapshot:
// callers invoke plugins after the lock is released, never under it.
func (r *Registry) Active() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		if in.active {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Get returns the named instance whether active or not.
func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[name]
	return in, ok
}

// GetActive returns the named instance only if it is active.
func (r *Registry) GetActive(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[name]
	if !ok || !in.active {
		return nil, false
	}
	return in, true
}

// IsActive reports the activation state of a registered plugin.
func (r *Registry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[name]
	return ok && in.active
}

// Names returns all registered plugin names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
