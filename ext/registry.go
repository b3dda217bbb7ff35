package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type workflowCancelledEntry struct {
	name string
	hook WorkflowCancelled
}

type stepStartedEntry struct {
	name string
	hook StepStarted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type txStartedEntry struct {
	name string
	hook TxStarted
}

type txCommittedEntry struct {
	name string
	hook TxCommitted
}

type txRolledBackEntry struct {
	name string
	hook TxRolledBack
}

type txFailedEntry struct {
	name string
	hook TxFailed
}

type txTimedOutEntry struct {
	name string
	hook TxTimedOut
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowStarted   []workflowStartedEntry
	workflowCompleted []workflowCompletedEntry
	workflowFailed    []workflowFailedEntry
	workflowCancelled []workflowCancelledEntry
	stepStarted       []stepStartedEntry
	stepCompleted     []stepCompletedEntry
	stepFailed        []stepFailedEntry
	txStarted         []txStartedEntry
	txCommitted       []txCommittedEntry
	txRolledBack      []txRolledBackEntry
	txFailed          []txFailedEntry
	txTimedOut        []txTimedOutEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(WorkflowCancelled); ok {
		r.workflowCancelled = append(r.workflowCancelled, workflowCancelledEntry{name, h})
	}
	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, stepStartedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(TxStarted); ok {
		r.txStarted = append(r.txStarted, txStartedEntry{name, h})
	}
	if h, ok := e.(TxCommitted); ok {
		r.txCommitted = append(r.txCommitted, txCommittedEntry{name, h})
	}
	if h, ok := e.(TxRolledBack); ok {
		r.txRolledBack = append(r.txRolledBack, txRolledBackEntry{name, h})
	}
	if h, ok := e.(TxFailed); ok {
		r.txFailed = append(r.txFailed, txFailedEntry{name, h})
	}
	if h, ok := e.(TxTimedOut); ok {
		r.txTimedOut = append(r.txTimedOut, txTimedOutEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, exec *workflow.Execution) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, exec); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, exec, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, exec *workflow.Execution, execErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, exec, execErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// EmitWorkflowCancelled notifies all extensions that implement WorkflowCancelled.
func (r *Registry) EmitWorkflowCancelled(ctx context.Context, exec *workflow.Execution) {
	for _, e := range r.workflowCancelled {
		if err := e.hook.OnWorkflowCancelled(ctx, exec); err != nil {
			r.logHookError("OnWorkflowCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepStarted notifies all extensions that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, exec *workflow.Execution, step *workflow.Step) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, exec, step); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, exec *workflow.Execution, step *workflow.Step, res *workflow.StepResult, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, exec, step, res, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, exec *workflow.Execution, step *workflow.Step, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, exec, step, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Transaction event emitters
// ──────────────────────────────────────────────────

// EmitTxStarted notifies all extensions that implement TxStarted.
func (r *Registry) EmitTxStarted(ctx context.Context, tx *txn.Transaction) {
	for _, e := range r.txStarted {
		if err := e.hook.OnTxStarted(ctx, tx); err != nil {
			r.logHookError("OnTxStarted", e.name, err)
		}
	}
}

// EmitTxCommitted notifies all extensions that implement TxCommitted.
func (r *Registry) EmitTxCommitted(ctx context.Context, tx *txn.Transaction) {
	for _, e := range r.txCommitted {
		if err := e.hook.OnTxCommitted(ctx, tx); err != nil {
			r.logHookError("OnTxCommitted", e.name, err)
		}
	}
}

// EmitTxRolledBack notifies all extensions that implement TxRolledBack.
func (r *Registry) EmitTxRolledBack(ctx context.Context, tx *txn.Transaction) {
	for _, e := range r.txRolledBack {
		if err := e.hook.OnTxRolledBack(ctx, tx); err != nil {
			r.logHookError("OnTxRolledBack", e.name, err)
		}
	}
}

// EmitTxFailed notifies all extensions that implement TxFailed.
func (r *Registry) EmitTxFailed(ctx context.Context, tx *txn.Transaction, txErr error) {
	for _, e := range r.txFailed {
		if err := e.hook.OnTxFailed(ctx, tx, txErr); err != nil {
			r.logHookError("OnTxFailed", e.name, err)
		}
	}
}

// EmitTxTimedOut notifies all extensions that implement TxTimedOut.
func (r *Registry) EmitTxTimedOut(ctx context.Context, tx *txn.Transaction) {
	for _, e := range r.txTimedOut {
		if err := e.hook.OnTxTimedOut(ctx, tx); err != nil {
			r.logHookError("OnTxTimedOut", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block execution.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
