package txn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
	"github.com/conducthq/conduct/plugin"
)

// fakeStore keeps snapshots in a map. The memory backend cannot be used
// here without an import cycle.
type fakeStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: make(map[string]*Snapshot)}
}

func (s *fakeStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.TxID.String()] = snap
	return nil
}

func (s *fakeStore) GetSnapshot(_ context.Context, txID id.TransactionID) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[txID.String()]
	if !ok {
		return nil, conduct.ErrTransactionNotFound
	}
	return snap, nil
}

func (s *fakeStore) ListSnapshots(_ context.Context, _ ListOpts) ([]*Snapshot, error) {
	return nil, nil
}

func (s *fakeStore) DeleteSnapshot(_ context.Context, txID id.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, txID.String())
	return nil
}

// nopEmitter satisfies Emitter.
type nopEmitter struct{}

func (nopEmitter) EmitTxStarted(context.Context, *Transaction)       {}
func (nopEmitter) EmitTxCommitted(context.Context, *Transaction)     {}
func (nopEmitter) EmitTxRolledBack(context.Context, *Transaction)    {}
func (nopEmitter) EmitTxFailed(context.Context, *Transaction, error) {}
func (nopEmitter) EmitTxTimedOut(context.Context, *Transaction)      {}

// participant records protocol calls and can fail prepare or commit.
type participant struct {
	mu         sync.Mutex
	log        []string
	prepareErr error
	commitErr  error
	supports   bool
}

func newParticipant() *participant {
	return &participant{supports: true}
}

func (p *participant) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, call)
}

func (p *participant) Prepare(_ context.Context, _ id.TransactionID) error {
	if p.prepareErr != nil {
		return p.prepareErr
	}
	p.record("prepare")
	return nil
}

func (p *participant) Commit(_ context.Context, _ id.TransactionID) error {
	if p.commitErr != nil {
		return p.commitErr
	}
	p.record("commit")
	return nil
}

func (p *participant) Abort(_ context.Context, _ id.TransactionID) error {
	p.record("abort")
	return nil
}

func (p *participant) SupportsTransactions() bool { return p.supports }

func (p *participant) IsolationLevel() conduct.IsolationLevel { return conduct.ReadCommitted }

func (p *participant) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := conduct.DefaultConfig()
	cfg.DefaultTransactionTimeout = time.Minute
	return NewCoordinator(plugin.NewParticipantRegistry(), newFakeStore(), nopEmitter{}, cfg, nil)
}

func execOp(name string) *Operation {
	return &Operation{
		Name:    name,
		Execute: func(ctx context.Context) error { return nil },
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestBeginDefaults(t *testing.T) {
	c := newTestCoordinator(t)
	tx, err := c.Begin(context.Background(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Isolation != conduct.ReadCommitted {
		t.Fatalf("isolation = %s, want read_committed default", tx.Isolation)
	}
	if tx.Timeout != time.Minute {
		t.Fatalf("timeout = %s, want configured default", tx.Timeout)
	}
	if tx.State() != StateActive {
		t.Fatalf("state = %s, want active", tx.State())
	}
	if got := len(c.ListActive()); got != 1 {
		t.Fatalf("ListActive() = %d, want 1", got)
	}
}

func TestAddOnlyWhileActive(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, tx.ID, execOp("op1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	// Committed transactions are no longer live.
	if err := c.Add(ctx, tx.ID, execOp("op2")); !errors.Is(err, conduct.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestAddAfterPrepareRejected(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Prepare(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, tx.ID, execOp("late")); !errors.Is(err, conduct.ErrTransactionNotActive) {
		t.Fatalf("expected ErrTransactionNotActive, got %v", err)
	}
}

func TestApplyRunsExecuteAndKeepsFailedOps(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}

	var ran bool
	if err := c.Apply(ctx, tx.ID, &Operation{
		Name:    "ok",
		Execute: func(ctx context.Context) error { ran = true; return nil },
	}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("Execute did not run")
	}
	op := tx.Operations()[0]
	if op.Kind != OpExecute {
		t.Fatalf("default kind = %s, want execute", op.Kind)
	}
	if op.ID.IsNil() || op.CreatedAt.IsZero() {
		t.Fatal("Add did not stamp id and timestamp")
	}

	// A failing Execute surfaces the error but keeps the operation logged
	// so rollback can unwind its partial effect.
	var undone bool
	applyErr := c.Apply(ctx, tx.ID, &Operation{
		Name:     "broken",
		Execute:  func(ctx context.Context) error { return errors.New("partial write") },
		Rollback: func(ctx context.Context) error { undone = true; return nil },
	})
	if applyErr == nil {
		t.Fatal("expected Apply error")
	}
	if got := len(tx.Operations()); got != 2 {
		t.Fatalf("ops logged = %d, want 2", got)
	}
	if err := c.Rollback(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if !undone {
		t.Fatal("failed operation was not unwound")
	}
}

// ──────────────────────────────────────────────────
// Two-phase commit
// ──────────────────────────────────────────────────

func TestCommitOrdersPhasesByFirstAppearance(t *testing.T) {
	c := newTestCoordinator(t)
	first := newParticipant()
	second := newParticipant()
	if err := c.Participants().Register("first", first); err != nil {
		t.Fatal(err)
	}
	if err := c.Participants().Register("second", second); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	// second appears first in the log; mentioning a plugin twice does not
	// duplicate it in the participant set.
	for _, pid := range []string{"second", "first", "second"} {
		op := execOp("op-" + pid)
		op.PluginID = pid
		if err := c.Add(ctx, tx.ID, op); err != nil {
			t.Fatal(err)
		}
	}
	if got := tx.Participants(); len(got) != 2 || got[0] != "second" || got[1] != "first" {
		t.Fatalf("participants = %v, want [second first]", got)
	}

	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	for _, p := range []*participant{first, second} {
		calls := p.calls()
		if len(calls) != 2 || calls[0] != "prepare" || calls[1] != "commit" {
			t.Fatalf("calls = %v, want [prepare commit]", calls)
		}
	}
}

func TestCommitPrepareFailureCompensates(t *testing.T) {
	c := newTestCoordinator(t)
	good := newParticipant()
	bad := newParticipant()
	bad.prepareErr = errors.New("no")
	if err := c.Participants().Register("good", good); err != nil {
		t.Fatal(err)
	}
	if err := c.Participants().Register("bad", bad); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, pid := range []string{"good", "bad"} {
		op := execOp("op")
		op.PluginID = pid
		if err := c.Add(ctx, tx.ID, op); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Commit(ctx, tx.ID); err == nil {
		t.Fatal("expected commit failure")
	}
	if tx.State() != StateFailed {
		t.Fatalf("state = %s, want failed", tx.State())
	}
	// The participant that voted yes gets a compensating abort; nobody
	// commits.
	calls := good.calls()
	if len(calls) != 2 || calls[0] != "prepare" || calls[1] != "abort" {
		t.Fatalf("good calls = %v, want [prepare abort]", calls)
	}
	if calls := bad.calls(); len(calls) != 0 {
		t.Fatalf("bad calls = %v, want none", calls)
	}
}

func TestPrepareOnlyDoesNotCompensate(t *testing.T) {
	c := newTestCoordinator(t)
	good := newParticipant()
	bad := newParticipant()
	bad.prepareErr = errors.New("no")
	if err := c.Participants().Register("good", good); err != nil {
		t.Fatal(err)
	}
	if err := c.Participants().Register("bad", bad); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, pid := range []string{"good", "bad"} {
		op := execOp("op")
		op.PluginID = pid
		if err := c.Add(ctx, tx.ID, op); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Prepare(ctx, tx.ID); err == nil {
		t.Fatal("expected prepare failure")
	}
	if tx.State() != StateFailed {
		t.Fatalf("state = %s, want failed", tx.State())
	}
	// The standalone Prepare entry point leaves compensation to the caller.
	calls := good.calls()
	if len(calls) != 1 || calls[0] != "prepare" {
		t.Fatalf("good calls = %v, want [prepare]", calls)
	}
}

func TestCommitAfterPrepareSkipsPhaseOne(t *testing.T) {
	c := newTestCoordinator(t)
	p := newParticipant()
	if err := c.Participants().Register("p", p); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	op := execOp("op")
	op.PluginID = "p"
	if err := c.Add(ctx, tx.ID, op); err != nil {
		t.Fatal(err)
	}

	if err := c.Prepare(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StatePrepared {
		t.Fatalf("state = %s, want prepared", tx.State())
	}
	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}

	calls := p.calls()
	if len(calls) != 2 || calls[0] != "prepare" || calls[1] != "commit" {
		t.Fatalf("calls = %v, want exactly one prepare then one commit", calls)
	}
}

func TestCommitPhaseTwoFailureDoesNotUncommit(t *testing.T) {
	c := newTestCoordinator(t)
	done := newParticipant()
	broken := newParticipant()
	broken.commitErr = errors.New("disk full")
	if err := c.Participants().Register("done", done); err != nil {
		t.Fatal(err)
	}
	if err := c.Participants().Register("broken", broken); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, pid := range []string{"done", "broken"} {
		op := execOp("op")
		op.PluginID = pid
		if err := c.Add(ctx, tx.ID, op); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Commit(ctx, tx.ID); err == nil {
		t.Fatal("expected commit failure")
	}
	if tx.State() != StateFailed {
		t.Fatalf("state = %s, want failed", tx.State())
	}
	// No abort is sent to the participant that already committed.
	calls := done.calls()
	if len(calls) != 2 || calls[1] != "commit" {
		t.Fatalf("done calls = %v, want [prepare commit]", calls)
	}
}

func TestNonTransactionalParticipantSkipped(t *testing.T) {
	c := newTestCoordinator(t)
	p := newParticipant()
	p.supports = false
	if err := c.Participants().Register("fire-and-forget", p); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	op := execOp("op")
	op.PluginID = "fire-and-forget"
	if err := c.Add(ctx, tx.ID, op); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if calls := p.calls(); len(calls) != 0 {
		t.Fatalf("non-transactional participant received %v", calls)
	}
}

// ──────────────────────────────────────────────────
// Rollback and savepoints
// ──────────────────────────────────────────────────

func TestRollbackIllegalFromCommitted(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, tx.ID, execOp("op")); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	// Committed transactions are dropped, so rollback cannot find them.
	if err := c.Rollback(ctx, tx.ID); !errors.Is(err, conduct.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	// The state machine itself also refuses Committed → Aborting.
	if err := tx.beginRollback(); err == nil {
		t.Fatal("beginRollback from committed must fail")
	}
}

func TestRollbackCollectsFailuresAndContinues(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}

	var undone []string
	add := func(name string, rollbackErr error) {
		t.Helper()
		if err := c.Add(ctx, tx.ID, &Operation{
			Name:    name,
			Execute: func(ctx context.Context) error { return nil },
			Rollback: func(ctx context.Context) error {
				undone = append(undone, name)
				return rollbackErr
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
	add("one", nil)
	add("two", errors.New("stuck"))
	add("three", nil)

	err = c.Rollback(ctx, tx.ID)
	if err == nil {
		t.Fatal("expected joined rollback error")
	}
	// All three ran, newest first, despite the middle failure.
	if len(undone) != 3 || undone[0] != "three" || undone[1] != "two" || undone[2] != "one" {
		t.Fatalf("undone = %v, want [three two one]", undone)
	}
	if tx.State() != StateFailed {
		t.Fatalf("state = %s, want failed after partial rollback", tx.State())
	}
}

func TestSavepointReleaseAndTruncation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Add(ctx, tx.ID, execOp("op1")); err != nil {
		t.Fatal(err)
	}
	if err := c.Savepoint(ctx, tx.ID, "early"); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, tx.ID, execOp("op2")); err != nil {
		t.Fatal(err)
	}
	if err := c.Savepoint(ctx, tx.ID, "late"); err != nil {
		t.Fatal(err)
	}

	// Rolling back to the earlier savepoint drops the later one with the
	// truncated suffix.
	if err := c.RollbackToSavepoint(ctx, tx.ID, "early"); err != nil {
		t.Fatal(err)
	}
	if got := len(tx.Operations()); got != 1 {
		t.Fatalf("ops after truncation = %d, want 1", got)
	}
	if err := c.RollbackToSavepoint(ctx, tx.ID, "late"); !errors.Is(err, conduct.ErrSavepointNotFound) {
		t.Fatalf("expected ErrSavepointNotFound for truncated savepoint, got %v", err)
	}

	// Release discards without unwinding.
	if err := c.ReleaseSavepoint(ctx, tx.ID, "early"); err != nil {
		t.Fatal(err)
	}
	if err := c.ReleaseSavepoint(ctx, tx.ID, "early"); !errors.Is(err, conduct.ErrSavepointNotFound) {
		t.Fatalf("expected ErrSavepointNotFound after release, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Timeout and state inspection
// ──────────────────────────────────────────────────

func TestExpireUnwindsAndDrops(t *testing.T) {
	c := newTestCoordinator(t)
	p := newParticipant()
	if err := c.Participants().Register("p", p); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 25*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var undone bool
	op := &Operation{
		Name:     "op",
		PluginID: "p",
		Execute:  func(ctx context.Context) error { return nil },
		Rollback: func(ctx context.Context) error { undone = true; return nil },
	}
	if err := c.Apply(ctx, tx.ID, op); err != nil {
		t.Fatal(err)
	}
	if err := c.Prepare(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tx.State() != StateTimedOut && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tx.State() != StateTimedOut {
		t.Fatalf("state = %s, want timed_out", tx.State())
	}
	if !undone {
		t.Fatal("expire did not unwind operations")
	}
	// Prepared participants get aborted on expiry.
	calls := p.calls()
	if len(calls) != 2 || calls[1] != "abort" {
		t.Fatalf("calls = %v, want [prepare abort]", calls)
	}

	// Dropped from the live registry; state remains via snapshot.
	if _, err := c.Get(tx.ID); !errors.Is(err, conduct.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	state, err := c.GetState(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state != StateTimedOut {
		t.Fatalf("snapshot state = %s, want timed_out", state)
	}
}

func TestBeginWithoutDeadlineNeverExpires(t *testing.T) {
	cfg := conduct.DefaultConfig()
	cfg.DefaultTransactionTimeout = 0
	c := NewCoordinator(plugin.NewParticipantRegistry(), newFakeStore(), nopEmitter{}, cfg, nil)

	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, tx.ID, execOp("op")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if tx.State() != StateActive {
		t.Fatalf("state = %s, want still active with no deadline", tx.State())
	}
	if err := c.Commit(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
}

func TestTimeoutDuringRollbackUnwindsOnce(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	// The rollback action outlives the transaction deadline, so the timer
	// fires mid-unwind. It must wait rather than compensate again.
	var undone atomic.Int32
	if err := c.Add(ctx, tx.ID, &Operation{
		Name:    "slow-undo",
		Execute: func(ctx context.Context) error { return nil },
		Rollback: func(ctx context.Context) error {
			undone.Add(1)
			time.Sleep(80 * time.Millisecond)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	if err := c.Rollback(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if tx.State() != StateAborted {
		t.Fatalf("state = %s, want aborted", tx.State())
	}

	// Give the expired timer time to run its path to completion.
	time.Sleep(50 * time.Millisecond)
	if got := undone.Load(); got != 1 {
		t.Fatalf("rollback action ran %d times, want exactly once", got)
	}
}

func TestRollbackAfterExpiryRejected(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	// Force the terminal timeout state directly; the live registry entry
	// is still present, as during the expiry window.
	if !tx.force(StateTimedOut, "deadline") {
		t.Fatal("force failed")
	}
	err = c.Rollback(ctx, tx.ID)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protoErr.State != StateTimedOut || protoErr.Op != "rollback" {
		t.Fatalf("protocol error = %+v", protoErr)
	}
}

func TestProtocolError(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	tx, err := c.Begin(ctx, conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Prepare(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	// Preparing an already-prepared transaction violates the protocol.
	err = c.Prepare(ctx, tx.ID)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protoErr.State != StatePrepared || protoErr.Op != "prepare" {
		t.Fatalf("protocol error = %+v", protoErr)
	}
	if !errors.Is(err, conduct.ErrInvalidState) {
		t.Fatalf("ProtocolError must match ErrInvalidState, got %v", err)
	}
}

func TestTransactionData(t *testing.T) {
	c := newTestCoordinator(t)
	tx, err := c.Begin(context.Background(), conduct.ReadCommitted, 0)
	if err != nil {
		t.Fatal(err)
	}
	tx.Set("order_id", "o-1")
	v, ok := tx.Get("order_id")
	if !ok || v != "o-1" {
		t.Fatalf("Get = %v/%v", v, ok)
	}
	if _, ok := tx.Get("missing"); ok {
		t.Fatal("Get found a missing key")
	}
	snap := tx.Snapshot()
	if snap.Data["order_id"] != "o-1" {
		t.Fatalf("snapshot data = %v", snap.Data)
	}
}
