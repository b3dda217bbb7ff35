// Package plugin defines the collaborator boundary between the engine and
// externally owned components. The engine never loads, sandboxes, or
// introspects components itself: it resolves a plugin id to a live Handle
// through a Resolver and invokes named operations on it. The in-memory
// Registry here serves embedders and tests; production integrations supply
// their own Resolver backed by whatever plugin runtime they use.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conducthq/conduct"
)

// Handle is a live, invokable component. Invoke calls the named operation
// with the given parameters and returns the operation's result document.
type Handle interface {
	Invoke(ctx context.Context, operation string, params conduct.Document) (conduct.Document, error)
}

// HandleFunc adapts a plain function into a Handle.
type HandleFunc func(ctx context.Context, operation string, params conduct.Document) (conduct.Document, error)

// Invoke calls f.
func (f HandleFunc) Invoke(ctx context.Context, operation string, params conduct.Document) (conduct.Document, error) {
	return f(ctx, operation, params)
}

// Resolver resolves a plugin id to a live Handle.
// Implementations return conduct.ErrPluginNotFound (possibly wrapped) when
// the id is unknown or the component is not live.
type Resolver interface {
	Resolve(pluginID string) (Handle, error)
}

// Registry is an in-memory Resolver. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register adds a handle under the given plugin id.
// Registering the same id twice returns conduct.ErrDuplicatePlugin.
func (r *Registry) Register(pluginID string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[pluginID]; ok {
		return fmt.Errorf("register %q: %w", pluginID, conduct.ErrDuplicatePlugin)
	}
	r.handles[pluginID] = h
	return nil
}

// Unregister removes a handle. Removing an unknown id is a no-op.
func (r *Registry) Unregister(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, pluginID)
}

// Resolve returns the handle registered under pluginID.
func (r *Registry) Resolve(pluginID string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[pluginID]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", pluginID, conduct.ErrPluginNotFound)
	}
	return h, nil
}

// List returns the registered plugin ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
