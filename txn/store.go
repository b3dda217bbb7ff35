package txn

import (
	"context"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// OpMeta is the closure-free record of one logged operation. The execute
// and rollback functions cannot be persisted; only their metadata is.
type OpMeta struct {
	ID           id.OperationID   `json:"id"`
	PluginID     string           `json:"plugin_id,omitempty"`
	Kind         OpKind           `json:"kind"`
	Name         string           `json:"name"`
	Params       conduct.Document `json:"params,omitempty"`
	RollbackData conduct.Document `json:"rollback_data,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Priority     int              `json:"priority,omitempty"`
}

// Snapshot is a serializable point-in-time record of a transaction, kept
// for inspection and audit. Live protocol driving always goes through the
// coordinator's in-memory Transaction.
type Snapshot struct {
	TxID         id.TransactionID       `json:"tx_id"`
	State        State                  `json:"state"`
	Isolation    conduct.IsolationLevel `json:"isolation"`
	Ops          []OpMeta               `json:"ops,omitempty"`
	Participants []string               `json:"participants,omitempty"`
	Savepoints   map[string]int         `json:"savepoints,omitempty"`
	Data         conduct.Document       `json:"data,omitempty"`
	Error        string                 `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Snapshot captures the transaction's current state.
func (t *Transaction) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops := make([]OpMeta, len(t.ops))
	for i, op := range t.ops {
		ops[i] = OpMeta{
			ID:           op.ID,
			PluginID:     op.PluginID,
			Kind:         op.Kind,
			Name:         op.Name,
			Params:       op.Params,
			RollbackData: op.RollbackData,
			CreatedAt:    op.CreatedAt,
			Priority:     op.Priority,
		}
	}
	savepoints := make(map[string]int, len(t.savepoints))
	for name, idx := range t.savepoints {
		savepoints[name] = idx
	}
	participants := make([]string, len(t.participants))
	copy(participants, t.participants)

	return &Snapshot{
		TxID:         t.ID,
		State:        t.state,
		Isolation:    t.Isolation,
		Ops:          ops,
		Participants: participants,
		Savepoints:   savepoints,
		Data:         t.data.Clone(),
		Error:        t.errMsg,
		StartedAt:    t.StartedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// ListOpts controls filtering and pagination for snapshot list queries.
type ListOpts struct {
	// Limit is the maximum number of snapshots to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of snapshots to skip.
	Offset int
	// State filters by transaction state. Empty means all states.
	State State
}

// Store persists transaction snapshots. The coordinator writes a snapshot
// on every state change, best-effort.
type Store interface {
	// SaveSnapshot inserts or replaces the snapshot for its transaction.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// GetSnapshot retrieves the latest snapshot for a transaction.
	GetSnapshot(ctx context.Context, txID id.TransactionID) (*Snapshot, error)

	// ListSnapshots returns snapshots matching the given options, newest
	// first.
	ListSnapshots(ctx context.Context, opts ListOpts) ([]*Snapshot, error)

	// DeleteSnapshot removes the snapshot for a transaction.
	DeleteSnapshot(ctx context.Context, txID id.TransactionID) error
}
