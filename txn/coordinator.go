package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
	"github.com/conducthq/conduct/plugin"
)

// Emitter emits transaction lifecycle events. Satisfied by
// *ext.Registry; the engine package plugs them together.
type Emitter interface {
	EmitTxStarted(ctx context.Context, tx *Transaction)
	EmitTxCommitted(ctx context.Context, tx *Transaction)
	EmitTxRolledBack(ctx context.Context, tx *Transaction)
	EmitTxFailed(ctx context.Context, tx *Transaction, err error)
	EmitTxTimedOut(ctx context.Context, tx *Transaction)
}

// tracked pairs a live transaction with its timeout timer. The timer is
// nil when the transaction has no deadline.
type tracked struct {
	tx       *Transaction
	timer    *time.Timer
	prepared bool // phase 1 completed at least once

	// unwindMu serializes the compensating unwinds driven by Rollback,
	// RollbackToSavepoint, and the timeout timer, so each operation's
	// rollback action runs at most once.
	unwindMu sync.Mutex
}

// Coordinator owns live transaction contexts and drives the two-phase
// commit and rollback protocol across registered participants.
type Coordinator struct {
	participants *plugin.ParticipantRegistry
	store        Store
	emitter      Emitter
	config       conduct.Config
	logger       *slog.Logger

	mu   sync.RWMutex
	live map[id.TransactionID]*tracked
}

// NewCoordinator creates a transaction coordinator.
func NewCoordinator(
	participants *plugin.ParticipantRegistry,
	store Store,
	emitter Emitter,
	cfg conduct.Config,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		participants: participants,
		store:        store,
		emitter:      emitter,
		config:       cfg,
		logger:       logger,
		live:         make(map[id.TransactionID]*tracked),
	}
}

// Participants returns the participant registry.
func (c *Coordinator) Participants() *plugin.ParticipantRegistry { return c.participants }

// Begin creates a transaction in Active state and starts its one-shot
// timeout timer. A zero timeout uses the configured default; if that is
// also zero the transaction never expires.
func (c *Coordinator) Begin(ctx context.Context, isolation conduct.IsolationLevel, timeout time.Duration) (*Transaction, error) {
	if isolation == "" {
		isolation = conduct.ReadCommitted
	}
	if timeout == 0 {
		timeout = c.config.DefaultTransactionTimeout
	}

	tx := newTransaction(isolation, timeout)
	tr := &tracked{tx: tx}
	if timeout > 0 {
		tr.timer = time.AfterFunc(timeout, func() { c.expire(tx.ID) })
	}

	c.mu.Lock()
	c.live[tx.ID] = tr
	c.mu.Unlock()

	c.persist(ctx, tx)
	c.emitter.EmitTxStarted(ctx, tx)
	c.logger.Info("transaction started",
		slog.String("tx_id", tx.ID.String()),
		slog.String("isolation", string(isolation)),
		slog.Duration("timeout", timeout),
	)
	return tx, nil
}

// Add appends an operation to the transaction's log and adds its owning
// plugin to the participant set. Only legal while Active.
func (c *Coordinator) Add(ctx context.Context, txID id.TransactionID, op *Operation) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	if op.ID.IsNil() {
		op.ID = id.NewOperationID()
	}
	if op.Kind == "" {
		op.Kind = OpExecute
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if err := tr.tx.add(op); err != nil {
		return err
	}
	c.persist(ctx, tr.tx)
	return nil
}

// Apply appends an operation and immediately runs its Execute function.
// The operation stays in the log even when Execute fails, so a later
// rollback unwinds any partial effect it may have had.
func (c *Coordinator) Apply(ctx context.Context, txID id.TransactionID, op *Operation) error {
	if err := c.Add(ctx, txID, op); err != nil {
		return err
	}
	if op.Execute == nil {
		return nil
	}
	if err := op.Execute(ctx); err != nil {
		return fmt.Errorf("operation %q on tx %s: %w", op.Name, txID, err)
	}
	return nil
}

// Savepoint records the current operation-log position under name.
func (c *Coordinator) Savepoint(ctx context.Context, txID id.TransactionID, name string) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	if err := tr.tx.savepoint(name); err != nil {
		return err
	}
	c.persist(ctx, tr.tx)
	return nil
}

// RollbackToSavepoint unwinds every operation appended after the named
// savepoint, in reverse order, then truncates the log back to the
// savepoint position. Operations recorded before the savepoint are
// untouched and the transaction stays Active.
func (c *Coordinator) RollbackToSavepoint(ctx context.Context, txID id.TransactionID, name string) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	tx := tr.tx

	tr.unwindMu.Lock()
	defer tr.unwindMu.Unlock()

	// Savepoints are an Active-state facility; if the timeout expired the
	// transaction while we waited for the lock, its log is already unwound.
	if st := tx.State(); st != StateActive {
		return &ProtocolError{TxID: tx.ID, State: st, Op: "rollback_to_savepoint"}
	}
	idx, err := tx.savepointIndex(name)
	if err != nil {
		return err
	}

	errs := c.unwind(ctx, tx, tx.opsFrom(idx))
	tx.truncate(idx)
	c.persist(ctx, tx)

	c.logger.Info("rolled back to savepoint",
		slog.String("tx_id", txID.String()),
		slog.String("savepoint", name),
		slog.Int("position", idx),
	)
	return errors.Join(errs...)
}

// ReleaseSavepoint discards a savepoint without rolling anything back.
func (c *Coordinator) ReleaseSavepoint(ctx context.Context, txID id.TransactionID, name string) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	if err := tr.tx.releaseSavepoint(name); err != nil {
		return err
	}
	c.persist(ctx, tr.tx)
	return nil
}

// Prepare runs phase 1 only: every participant votes, in participant-set
// order. Only legal from Active. A prepare failure marks the transaction
// Failed and returns it; this entry point issues no compensating aborts —
// that is the full Commit path's job.
func (c *Coordinator) Prepare(ctx context.Context, txID id.TransactionID) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	return c.prepareAll(ctx, tr, false)
}

// Commit runs the canonical two-phase routine. Legal from Active (both
// phases run) or Prepared (phase 1 was already driven via Prepare).
//
// Phase 1: prepare every participant in participant-set order; on any
// failure, abort the participants already prepared before the failing
// one, mark the transaction Failed, and return the original failure —
// phase 2 never starts.
//
// Phase 2: commit every participant in the same order. A commit-phase
// failure is reported as Failed but does not un-commit participants that
// already committed; that is a protocol limitation requiring manual
// reconciliation.
func (c *Coordinator) Commit(ctx context.Context, txID id.TransactionID) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	tx := tr.tx

	switch tx.State() {
	case StateActive:
		if err := c.prepareAll(ctx, tr, true); err != nil {
			return err
		}
	case StatePrepared:
		// Phase 1 already done via Prepare.
	default:
		return &ProtocolError{TxID: tx.ID, State: tx.State(), Op: "commit"}
	}

	if err := tx.transition("commit", StateCommitting, StatePrepared); err != nil {
		return err
	}
	c.persist(ctx, tx)

	for _, pid := range tx.Participants() {
		p, err := c.participants.Lookup(pid)
		if err != nil {
			c.failTx(ctx, tx, fmt.Errorf("commit phase: %w", err))
			return err
		}
		if !p.SupportsTransactions() {
			continue
		}
		if err := p.Commit(ctx, tx.ID); err != nil {
			commitErr := fmt.Errorf("participant %q commit on tx %s: %w", pid, tx.ID, err)
			c.failTx(ctx, tx, commitErr)
			return commitErr
		}
	}

	if err := tx.transition("commit", StateCommitted, StateCommitting); err != nil {
		return err
	}
	c.persist(ctx, tx)
	c.emitter.EmitTxCommitted(ctx, tx)
	c.drop(txID)

	c.logger.Info("transaction committed",
		slog.String("tx_id", tx.ID.String()),
		slog.Int("participants", len(tx.Participants())),
		slog.Int("operations", len(tx.Operations())),
	)
	return nil
}

// prepareAll drives phase 1. With compensate set, participants prepared
// before a failing one receive an abort.
func (c *Coordinator) prepareAll(ctx context.Context, tr *tracked, compensate bool) error {
	tx := tr.tx
	if err := tx.transition("prepare", StatePreparing, StateActive); err != nil {
		return err
	}
	c.persist(ctx, tx)

	var preparedIDs []string
	var prepared []plugin.Participant
	for _, pid := range tx.Participants() {
		p, err := c.participants.Lookup(pid)
		if err != nil {
			if compensate {
				c.abortPrepared(ctx, tx, preparedIDs, prepared)
			}
			c.failTx(ctx, tx, fmt.Errorf("prepare phase: %w", err))
			return err
		}
		if !p.SupportsTransactions() {
			continue
		}
		if err := p.Prepare(ctx, tx.ID); err != nil {
			prepErr := fmt.Errorf("participant %q prepare on tx %s: %w", pid, tx.ID, err)
			if compensate {
				c.abortPrepared(ctx, tx, preparedIDs, prepared)
			}
			c.failTx(ctx, tx, prepErr)
			return prepErr
		}
		preparedIDs = append(preparedIDs, pid)
		prepared = append(prepared, p)
	}

	if err := tx.transition("prepare", StatePrepared, StatePreparing); err != nil {
		return err
	}
	tr.prepared = true
	c.persist(ctx, tx)
	return nil
}

// abortPrepared issues the compensating unwind: abort, in order, every
// participant that successfully prepared before the failure. Best-effort.
func (c *Coordinator) abortPrepared(ctx context.Context, tx *Transaction, ids []string, prepared []plugin.Participant) {
	for i, p := range prepared {
		if err := p.Abort(ctx, tx.ID); err != nil {
			c.logger.Error("compensating abort failed",
				slog.String("tx_id", tx.ID.String()),
				slog.String("participant", ids[i]),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Rollback transitions the transaction to Aborting and invokes each
// operation's rollback action in reverse log order. Illegal only from
// Committed. Individual rollback failures are reported but do not stop
// the remaining rollbacks; any failure leaves the transaction Failed.
func (c *Coordinator) Rollback(ctx context.Context, txID id.TransactionID) error {
	tr, err := c.lookup(txID)
	if err != nil {
		return err
	}
	tx := tr.tx

	tr.unwindMu.Lock()
	defer tr.unwindMu.Unlock()

	// beginRollback rejects terminal states, so a timer that expired the
	// transaction while we waited for the lock cannot be unwound again.
	if err := tx.beginRollback(); err != nil {
		return err
	}
	c.persist(ctx, tx)

	errs := c.unwind(ctx, tx, tx.opsFrom(0))
	if tr.prepared {
		c.abortParticipants(ctx, tx)
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if tx.finishRollback(StateFailed, joined.Error()) {
			c.persist(ctx, tx)
			c.emitter.EmitTxFailed(ctx, tx, joined)
		}
		return joined
	}

	if tx.finishRollback(StateAborted, "") {
		c.persist(ctx, tx)
		c.emitter.EmitTxRolledBack(ctx, tx)
		c.drop(txID)
	}
	c.logger.Info("transaction rolled back",
		slog.String("tx_id", tx.ID.String()),
		slog.Int("operations", len(tx.Operations())),
	)
	return nil
}

// unwind runs rollback actions for ops in reverse append order,
// collecting failures without stopping.
func (c *Coordinator) unwind(ctx context.Context, tx *Transaction, ops []*Operation) []error {
	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.Rollback == nil {
			continue
		}
		if err := op.Rollback(ctx); err != nil {
			c.logger.Error("operation rollback failed",
				slog.String("tx_id", tx.ID.String()),
				slog.String("operation", op.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("rollback of operation %q: %w", op.Name, err))
		}
	}
	return errs
}

// abortParticipants sends Abort to every supporting participant.
// Best-effort; used after a completed phase 1 is being unwound.
func (c *Coordinator) abortParticipants(ctx context.Context, tx *Transaction) {
	for _, pid := range tx.Participants() {
		p, err := c.participants.Lookup(pid)
		if err != nil || !p.SupportsTransactions() {
			continue
		}
		if err := p.Abort(ctx, tx.ID); err != nil {
			c.logger.Error("participant abort failed",
				slog.String("tx_id", tx.ID.String()),
				slog.String("participant", pid),
				slog.String("error", err.Error()),
			)
		}
	}
}

// failTx marks the transaction Failed and emits the failure event.
func (c *Coordinator) failTx(ctx context.Context, tx *Transaction, err error) {
	if tx.force(StateFailed, err.Error()) {
		c.persist(ctx, tx)
		c.emitter.EmitTxFailed(ctx, tx, err)
	}
}

// expire is the timeout timer callback: force a best-effort rollback,
// mark the transaction TimedOut if it has not already terminated, and
// remove it from the live registry regardless of rollback outcome.
func (c *Coordinator) expire(txID id.TransactionID) {
	ctx := context.Background()

	c.mu.RLock()
	tr, ok := c.live[txID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	tx := tr.tx

	// An in-flight Rollback or RollbackToSavepoint owns the unwind; wait
	// for it, then re-check so already-compensated operations never run
	// their rollback actions a second time.
	tr.unwindMu.Lock()
	defer tr.unwindMu.Unlock()
	if tx.State().Terminal() {
		c.drop(txID)
		return
	}

	c.logger.Warn("transaction timed out",
		slog.String("tx_id", txID.String()),
		slog.Duration("timeout", tx.Timeout),
	)

	errs := c.unwind(ctx, tx, tx.opsFrom(0))
	if tr.prepared {
		c.abortParticipants(ctx, tx)
	}
	if len(errs) > 0 {
		c.logger.Error("rollback during timeout was incomplete",
			slog.String("tx_id", txID.String()),
			slog.Int("failures", len(errs)),
		)
	}

	if tx.force(StateTimedOut, fmt.Sprintf("transaction timed out after %s", tx.Timeout)) {
		c.persist(ctx, tx)
		c.emitter.EmitTxTimedOut(ctx, tx)
	}
	c.drop(txID)
}

// Get returns a live transaction.
func (c *Coordinator) Get(txID id.TransactionID) (*Transaction, error) {
	tr, err := c.lookup(txID)
	if err != nil {
		return nil, err
	}
	return tr.tx, nil
}

// GetState returns the state of a transaction, consulting the snapshot
// store for transactions no longer live.
func (c *Coordinator) GetState(ctx context.Context, txID id.TransactionID) (State, error) {
	c.mu.RLock()
	tr, ok := c.live[txID]
	c.mu.RUnlock()
	if ok {
		return tr.tx.State(), nil
	}
	snap, err := c.store.GetSnapshot(ctx, txID)
	if err != nil {
		return "", err
	}
	return snap.State, nil
}

// ListActive returns the live transactions, oldest first.
func (c *Coordinator) ListActive() []*Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	txs := make([]*Transaction, 0, len(c.live))
	for _, tr := range c.live {
		txs = append(txs, tr.tx)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].StartedAt.Before(txs[j].StartedAt) })
	return txs
}

func (c *Coordinator) lookup(txID id.TransactionID) (*tracked, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.live[txID]
	if !ok {
		return nil, fmt.Errorf("tx %s: %w", txID, conduct.ErrTransactionNotFound)
	}
	return tr, nil
}

// drop stops the timer and removes the transaction from the live
// registry. Its snapshot remains in the store.
func (c *Coordinator) drop(txID id.TransactionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.live[txID]; ok {
		if tr.timer != nil {
			tr.timer.Stop()
		}
		delete(c.live, txID)
	}
}

// persist writes the transaction's snapshot, best-effort.
func (c *Coordinator) persist(ctx context.Context, tx *Transaction) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSnapshot(ctx, tx.Snapshot()); err != nil {
		c.logger.Error("failed to persist transaction snapshot",
			slog.String("tx_id", tx.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
