package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// State is the lifecycle state of a transaction.
//
// Happy path: Active → Preparing → Prepared → Committing → Committed.
// Explicit rollback: Active/Preparing/Prepared → Aborting → Aborted.
// Unrecoverable protocol failure from any non-terminal state → Failed.
// Timer-driven: Active → TimedOut.
type State string

const (
	// StateActive means operations may still be appended.
	StateActive State = "active"
	// StatePreparing means phase 1 is in flight.
	StatePreparing State = "preparing"
	// StatePrepared means every participant voted yes.
	StatePrepared State = "prepared"
	// StateCommitting means phase 2 is in flight.
	StateCommitting State = "committing"
	// StateCommitted means the transaction completed.
	StateCommitted State = "committed"
	// StateAborting means rollback actions are running.
	StateAborting State = "aborting"
	// StateAborted means the transaction was rolled back cleanly.
	StateAborted State = "aborted"
	// StateFailed means a prepare, commit, or rollback step failed in a
	// way the coordinator cannot reconcile.
	StateFailed State = "failed"
	// StateTimedOut means the transaction timer fired before commit.
	StateTimedOut State = "timed_out"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateAborted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// ProtocolError reports a coordinator call that is illegal in the
// transaction's current state, such as committing an already-committed
// transaction.
type ProtocolError struct {
	TxID  id.TransactionID
	State State
	Op    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("txn: %s not allowed in state %q (tx %s)", e.Op, e.State, e.TxID)
}

// Is matches ProtocolError against the ErrInvalidState sentinel.
func (e *ProtocolError) Is(target error) bool {
	return target == conduct.ErrInvalidState
}

// OpKind classifies an operation for inspection and audit. The
// coordinator does not interpret it.
type OpKind string

const (
	OpRead      OpKind = "read"
	OpWrite     OpKind = "write"
	OpExecute   OpKind = "execute"
	OpConfigure OpKind = "configure"
	OpCustom    OpKind = "custom"
)

// Operation is one unit of work appended to a transaction's log. Execute
// and Rollback are first-class function values owned by the operation;
// they must be safe to call from a different goroutine than the one that
// appended the operation, since rollback may be driven by the timeout
// timer. Operations are never mutated after appending — rollback reads
// the log, it does not edit it.
type Operation struct {
	ID           id.OperationID
	PluginID     string
	Kind         OpKind
	Name         string
	Params       conduct.Document
	RollbackData conduct.Document
	Execute      func(ctx context.Context) error
	Rollback     func(ctx context.Context) error
	CreatedAt    time.Time
	Priority     int
}

// Transaction is one live transaction context. The operation log,
// participant set, savepoints, and data map are guarded by a single
// mutex because the coordinator API may be called concurrently by
// different steps or workflows for the same transaction id.
type Transaction struct {
	conduct.Entity

	ID        id.TransactionID       `json:"id"`
	Isolation conduct.IsolationLevel `json:"isolation"`
	Timeout   time.Duration          `json:"timeout"`
	StartedAt time.Time              `json:"started_at"`

	mu           sync.Mutex
	state        State
	ops          []*Operation
	participants []string // first-appearance order, deduped
	savepoints   map[string]int
	data         conduct.Document
	errMsg       string
}

func newTransaction(isolation conduct.IsolationLevel, timeout time.Duration) *Transaction {
	return &Transaction{
		Entity:     conduct.NewEntity(),
		ID:         id.NewTransactionID(),
		Isolation:  isolation,
		Timeout:    timeout,
		StartedAt:  time.Now().UTC(),
		state:      StateActive,
		savepoints: make(map[string]int),
		data:       conduct.Document{},
	}
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the failure message recorded on a Failed transaction.
func (t *Transaction) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Participants returns the participant set in first-appearance order.
func (t *Transaction) Participants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.participants))
	copy(out, t.participants)
	return out
}

// Operations returns a copy of the operation log.
func (t *Transaction) Operations() []*Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Operation, len(t.ops))
	copy(out, t.ops)
	return out
}

// Set stores an auxiliary key-value pair on the transaction.
func (t *Transaction) Set(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = value
	t.Touch()
}

// Get retrieves an auxiliary value stored on the transaction.
func (t *Transaction) Get(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[key]
	return v, ok
}

// transition moves the transaction to next if the current state is one of
// from. Returns a ProtocolError naming op otherwise.
func (t *Transaction) transition(op string, next State, from ...State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range from {
		if t.state == s {
			t.state = next
			t.Touch()
			return nil
		}
	}
	return &ProtocolError{TxID: t.ID, State: t.state, Op: op}
}

// force moves the transaction to next unconditionally, recording an
// optional failure message. Used for Failed and TimedOut, which may be
// entered from any non-terminal state.
func (t *Transaction) force(next State, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = next
	if errMsg != "" {
		t.errMsg = errMsg
	}
	t.Touch()
	return true
}

// beginRollback moves the transaction into Aborting. A Failed
// transaction may still be unwound; Committed cannot be rolled back,
// and Aborted and TimedOut already had their log unwound.
func (t *Transaction) beginRollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateCommitted, StateAborted, StateTimedOut:
		return &ProtocolError{TxID: t.ID, State: t.state, Op: "rollback"}
	}
	t.state = StateAborting
	t.Touch()
	return nil
}

// finishRollback completes a rollback begun with beginRollback. It only
// applies while still Aborting, so a timeout that fired mid-rollback and
// marked the transaction TimedOut is not overwritten.
func (t *Transaction) finishRollback(next State, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateAborting {
		return false
	}
	t.state = next
	if errMsg != "" {
		t.errMsg = errMsg
	}
	t.Touch()
	return true
}

// add appends an operation and registers its owning plugin as a
// participant. Only legal while Active.
func (t *Transaction) add(op *Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("tx %s in state %q: %w", t.ID, t.state, conduct.ErrTransactionNotActive)
	}
	t.ops = append(t.ops, op)
	if op.PluginID != "" && !contains(t.participants, op.PluginID) {
		t.participants = append(t.participants, op.PluginID)
	}
	t.Touch()
	return nil
}

// savepoint records the current operation-log length under name.
func (t *Transaction) savepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("tx %s in state %q: %w", t.ID, t.state, conduct.ErrTransactionNotActive)
	}
	t.savepoints[name] = len(t.ops)
	t.Touch()
	return nil
}

// savepointIndex returns the log position recorded under name.
func (t *Transaction) savepointIndex(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.savepoints[name]
	if !ok {
		return 0, fmt.Errorf("tx %s savepoint %q: %w", t.ID, name, conduct.ErrSavepointNotFound)
	}
	return idx, nil
}

// releaseSavepoint discards the savepoint without rolling anything back.
func (t *Transaction) releaseSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.savepoints[name]; !ok {
		return fmt.Errorf("tx %s savepoint %q: %w", t.ID, name, conduct.ErrSavepointNotFound)
	}
	delete(t.savepoints, name)
	t.Touch()
	return nil
}

// truncate drops operations at and after index idx, plus any savepoints
// that point past the new end of the log. Called after a savepoint
// rollback so those operations cannot be unwound twice.
func (t *Transaction) truncate(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < len(t.ops) {
		t.ops = t.ops[:idx]
	}
	for name, pos := range t.savepoints {
		if pos > idx {
			delete(t.savepoints, name)
		}
	}
	t.Touch()
}

// opsFrom returns a copy of the operation log from index idx onward.
func (t *Transaction) opsFrom(idx int) []*Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= len(t.ops) {
		return nil
	}
	out := make([]*Operation, len(t.ops)-idx)
	copy(out, t.ops[idx:])
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
