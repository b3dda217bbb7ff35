package workflow

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/graph"
)

// Registry holds registered workflow definitions keyed by id. Validation
// happens at register time, never at execute time: a definition that made
// it into the registry has a non-empty id, at least one step, resolvable
// dependencies, and an acyclic graph.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger *slog.Logger
}

// NewRegistry creates an empty workflow registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger,
	}
}

// Register validates and stores a definition. Rejects duplicates by id.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return conduct.ErrEmptyWorkflowID
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrNoSteps)
	}
	for stepID, step := range def.Steps {
		if step == nil {
			return fmt.Errorf("workflow %q step %q is nil: %w", def.ID, stepID, conduct.ErrStepNotFound)
		}
	}
	if _, err := graph.Resolve(def.Dependencies()); err != nil {
		return fmt.Errorf("workflow %q: %w", def.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.ID]; ok {
		return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrDuplicateWorkflow)
	}
	r.defs[def.ID] = def

	r.logger.Debug("workflow registered",
		slog.String("workflow_id", def.ID),
		slog.Int("steps", len(def.Steps)),
		slog.String("mode", string(def.Mode)),
	)
	return nil
}

// Unregister removes a definition. Removing an unknown id is a no-op.
func (r *Registry) Unregister(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, workflowID)
}

// Get returns the definition registered under workflowID.
func (r *Registry) Get(workflowID string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, conduct.ErrWorkflowNotFound)
	}
	return def, nil
}

// List returns all registered definitions sorted by id.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}
