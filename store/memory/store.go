// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. It is the reference backend: every subsystem test
// and the default engine wiring run against it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/event"
	"github.com/conducthq/conduct/id"
	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ txn.Store      = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Executions are stored by reference — the engine mutates them in place
// through their own synchronization. Snapshots and events are owned by
// the store.
type Store struct {
	mu sync.RWMutex

	executions map[string]*workflow.Execution
	snapshots  map[string]*txn.Snapshot
	events     map[string]*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions: make(map[string]*workflow.Execution),
		snapshots:  make(map[string]*txn.Snapshot),
		events:     make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateExecution records a new execution.
func (m *Store) CreateExecution(_ context.Context, exec *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := exec.ID.String()
	if _, ok := m.executions[key]; ok {
		return conduct.ErrDuplicateExecution
	}
	m.executions[key] = exec
	return nil
}

// GetExecution retrieves an execution by id.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[execID.String()]
	if !ok {
		return nil, conduct.ErrExecutionNotFound
	}
	return exec, nil
}

// ListExecutions returns executions matching the given options, newest
// first.
func (m *Store) ListExecutions(_ context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	m.mu.RLock()

	matched := make([]*workflow.Execution, 0, len(m.executions))
	for _, exec := range m.executions {
		if opts.WorkflowID != "" && exec.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.State != "" && exec.State() != opts.State {
			continue
		}
		matched = append(matched, exec)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// DeleteExecution removes an execution record.
func (m *Store) DeleteExecution(_ context.Context, execID id.ExecutionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := execID.String()
	if _, ok := m.executions[key]; !ok {
		return conduct.ErrExecutionNotFound
	}
	delete(m.executions, key)
	return nil
}

// ──────────────────────────────────────────────────
// Transaction Store
// ──────────────────────────────────────────────────

// SaveSnapshot inserts or replaces the snapshot for its transaction.
func (m *Store) SaveSnapshot(_ context.Context, snap *txn.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snap.TxID.String()] = snap
	return nil
}

// GetSnapshot retrieves the latest snapshot for a transaction.
func (m *Store) GetSnapshot(_ context.Context, txID id.TransactionID) (*txn.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[txID.String()]
	if !ok {
		return nil, conduct.ErrTransactionNotFound
	}
	return snap, nil
}

// ListSnapshots returns snapshots matching the given options, newest
// first.
func (m *Store) ListSnapshots(_ context.Context, opts txn.ListOpts) ([]*txn.Snapshot, error) {
	m.mu.RLock()

	matched := make([]*txn.Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		if opts.State != "" && snap.State != opts.State {
			continue
		}
		matched = append(matched, snap)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// DeleteSnapshot removes the snapshot for a transaction.
func (m *Store) DeleteSnapshot(_ context.Context, txID id.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := txID.String()
	if _, ok := m.snapshots[key]; !ok {
		return conduct.ErrTransactionNotFound
	}
	delete(m.snapshots, key)
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[evt.ID.String()] = evt
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based: loops with 10ms sleep until an event is available or
// timeout. Returns the oldest matching event.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		var oldest *event.Event
		for _, evt := range m.events {
			if evt.Name != name || evt.Acked {
				continue
			}
			if oldest == nil || evt.CreatedAt.Before(oldest.CreatedAt) {
				oldest = evt
			}
		}
		m.mu.RUnlock()
		if oldest != nil {
			return oldest, nil
		}

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return conduct.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}

// paginate applies offset and limit to an already-sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
