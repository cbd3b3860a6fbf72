// Package plugin defines the uniform lifecycle and change-callback
// contract every service driver implements (spec §4.3, component C4),
// and the ordered registry the orchestrator dispatches watch events
// through. The shape mirrors a provider-registry split seen elsewhere in
// the corpus (a Name()-keyed registry of independently pluggable
// drivers, each erased behind one interface) rather than anything
// controller-runtime-specific, since this agent is a stand-alone daemon
// rather than a Kubernetes controller.
package plugin

import "context"

// Change is a single watched key's new state. Key is relative to the
// configured KVDB prefix P (for example "dns/zones/example.com"). Value
// is nil for a tombstone (the key was deleted).
type Change struct {
	Key   string
	Value []byte
}

// Plugin is the reconciliation driver for one managed daemon. A Plugin
// MUST NOT block on_change for longer than its own configured deadline;
// long work belongs in a background task the plugin itself owns.
type Plugin interface {
	// Name is a stable identifier, unique within a Registry.
	Name() string
	// Init is called once, after dependency injection but before the
	// orchestrator performs the initial PrefixScan and opens watches
	// (spec §4.11: init in startup step 3, prefix-scan seeding via
	// OnChange in step 4). It may start background tasks bound to ctx.
	Init(ctx context.Context) error
	// OnChange is called for every watched event whose key is relevant
	// to this plugin; irrelevant events MUST be treated as a no-op, not
	// an error, since the orchestrator fans every event out to every
	// plugin regardless of prefix.
	OnChange(ctx context.Context, change Change) error
	// Reload re-renders and signals the managed daemon from current
	// state. It must be safe to call repeatedly; a full reload from
	// scratch must be idempotent (spec §8: re-running with no
	// intervening changes is byte-identical).
	Reload(ctx context.Context) error
	// Health reports whether the managed daemon is considered healthy.
	Health(ctx context.Context) bool
	// Shutdown stops background tasks and best-effort quiesces the
	// managed daemon. Called in reverse registration order.
	Shutdown(ctx context.Context) error
}

// Registry is the ordered, name-unique sequence of registered plugins.
// Registration order is preserved for both Init (forward) and Shutdown
// (reverse), per spec §3's plugin-registry entity and §4.11's startup
// order.
type Registry struct {
	order []string
	byName map[string]Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Register appends p to the registry. Registering a name twice panics:
// it is a programming error in the orchestrator's wiring, not a runtime
// condition callers should handle.
func (r *Registry) Register(p Plugin) {
	name := p.Name()
	if _, exists := r.byName[name]; exists {
		panic("plugin: duplicate registration for " + name)
	}
	r.byName[name] = p
	r.order = append(r.order, name)
}

// All returns every registered plugin in registration order.
func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Reversed returns every registered plugin in reverse registration
// order, the order Shutdown must run in.
func (r *Registry) Reversed() []Plugin {
	all := r.All()
	out := make([]Plugin, len(all))
	for i, p := range all {
		out[len(all)-1-i] = p
	}
	return out
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int { return len(r.order) }
