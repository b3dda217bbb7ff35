// Package ext defines the extension system for Conduct.
// Extensions are notified of lifecycle events (workflow started, step
// failed, transaction committed, etc.) and can react to them — metrics,
// audit logs, webhooks.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when an execution begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, exec *workflow.Execution) error
}

// WorkflowCompleted is called after an execution finishes successfully.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error
}

// WorkflowFailed is called when an execution fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, exec *workflow.Execution, err error) error
}

// WorkflowCancelled is called when an execution is cancelled.
type WorkflowCancelled interface {
	OnWorkflowCancelled(ctx context.Context, exec *workflow.Execution) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when the executor begins a step.
type StepStarted interface {
	OnStepStarted(ctx context.Context, exec *workflow.Execution, step *workflow.Step) error
}

// StepCompleted is called after a step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, exec *workflow.Execution, step *workflow.Step, res *workflow.StepResult, elapsed time.Duration) error
}

// StepFailed is called when a step fails terminally (retries exhausted or
// a non-retryable resolution failure).
type StepFailed interface {
	OnStepFailed(ctx context.Context, exec *workflow.Execution, step *workflow.Step, err error) error
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// TxStarted is called when a transaction begins.
type TxStarted interface {
	OnTxStarted(ctx context.Context, tx *txn.Transaction) error
}

// TxCommitted is called after a transaction commits.
type TxCommitted interface {
	OnTxCommitted(ctx context.Context, tx *txn.Transaction) error
}

// TxRolledBack is called after a transaction rolls back cleanly.
type TxRolledBack interface {
	OnTxRolledBack(ctx context.Context, tx *txn.Transaction) error
}

// TxFailed is called when a transaction fails during prepare, commit, or
// rollback.
type TxFailed interface {
	OnTxFailed(ctx context.Context, tx *txn.Transaction, err error) error
}

// TxTimedOut is called when a transaction's timer fires before commit.
type TxTimedOut interface {
	OnTxTimedOut(ctx context.Context, tx *txn.Transaction) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
