package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// Participant is a component that takes part in two-phase-commit
// transactions. A component registers its Participant ahead of any
// transaction that names it; the coordinator looks it up by plugin id when
// driving prepare, commit, and abort.
type Participant interface {
	// Prepare asks the participant to stage all work recorded for txID and
	// vote. A nil return is a yes vote and a promise that Commit will succeed.
	Prepare(ctx context.Context, txID id.TransactionID) error

	// Commit makes the staged work for txID durable.
	Commit(ctx context.Context, txID id.TransactionID) error

	// Abort discards any staged work for txID. Called after a failed
	// prepare round and on rollback.
	Abort(ctx context.Context, txID id.TransactionID) error

	// SupportsTransactions reports whether the component honors the
	// protocol at all. The coordinator skips participants that return false.
	SupportsTransactions() bool

	// IsolationLevel is the strongest level the participant guarantees.
	IsolationLevel() conduct.IsolationLevel
}

// ParticipantRegistry holds transaction participants keyed by plugin id.
// Safe for concurrent use.
type ParticipantRegistry struct {
	mu           sync.RWMutex
	participants map[string]Participant
}

// NewParticipantRegistry creates an empty participant registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{participants: make(map[string]Participant)}
}

// Register adds a participant under the given plugin id.
// Registering the same id twice returns conduct.ErrDuplicateParticipant.
func (r *ParticipantRegistry) Register(pluginID string, p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[pluginID]; ok {
		return fmt.Errorf("register participant %q: %w", pluginID, conduct.ErrDuplicateParticipant)
	}
	r.participants[pluginID] = p
	return nil
}

// Unregister removes a participant. Removing an unknown id is a no-op.
func (r *ParticipantRegistry) Unregister(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, pluginID)
}

// Lookup returns the participant registered under pluginID.
func (r *ParticipantRegistry) Lookup(pluginID string) (Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[pluginID]
	if !ok {
		return nil, fmt.Errorf("participant %q: %w", pluginID, conduct.ErrParticipantNotFound)
	}
	return p, nil
}

// List returns the registered plugin ids in sorted order.
func (r *ParticipantRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
