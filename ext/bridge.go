package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/event"
	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// EventBridge is an extension that publishes lifecycle notifications to
// the event bus, making workflow, step, and transaction state changes
// observable to subscribers outside the engine.
type EventBridge struct {
	bus *event.Bus
}

// NewEventBridge creates a bridge publishing to the given bus.
func NewEventBridge(bus *event.Bus) *EventBridge {
	return &EventBridge{bus: bus}
}

// Name implements Extension.
func (b *EventBridge) Name() string { return "event-bridge" }

func (b *EventBridge) publish(ctx context.Context, name string, payload conduct.Document) error {
	_, err := b.bus.Publish(ctx, name, payload)
	return err
}

func executionPayload(exec *workflow.Execution) conduct.Document {
	return conduct.Document{
		"execution_id": exec.ID.String(),
		"workflow_id":  exec.WorkflowID,
		"state":        string(exec.State()),
	}
}

func stepPayload(exec *workflow.Execution, step *workflow.Step) conduct.Document {
	return conduct.Document{
		"execution_id": exec.ID.String(),
		"workflow_id":  exec.WorkflowID,
		"step_id":      step.ID,
		"plugin_id":    step.PluginID,
	}
}

func txPayload(tx *txn.Transaction) conduct.Document {
	return conduct.Document{
		"tx_id": tx.ID.String(),
		"state": string(tx.State()),
	}
}

// OnWorkflowStarted implements WorkflowStarted.
func (b *EventBridge) OnWorkflowStarted(ctx context.Context, exec *workflow.Execution) error {
	return b.publish(ctx, event.WorkflowStarted, executionPayload(exec))
}

// OnWorkflowCompleted implements WorkflowCompleted.
func (b *EventBridge) OnWorkflowCompleted(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	payload := executionPayload(exec)
	payload["elapsed_ms"] = elapsed.Milliseconds()
	return b.publish(ctx, event.WorkflowCompleted, payload)
}

// OnWorkflowFailed implements WorkflowFailed.
func (b *EventBridge) OnWorkflowFailed(ctx context.Context, exec *workflow.Execution, execErr error) error {
	payload := executionPayload(exec)
	if execErr != nil {
		payload["error"] = execErr.Error()
	}
	return b.publish(ctx, event.WorkflowFailed, payload)
}

// OnWorkflowCancelled implements WorkflowCancelled.
func (b *EventBridge) OnWorkflowCancelled(ctx context.Context, exec *workflow.Execution) error {
	return b.publish(ctx, event.WorkflowCancelled, executionPayload(exec))
}

// OnStepStarted implements StepStarted.
func (b *EventBridge) OnStepStarted(ctx context.Context, exec *workflow.Execution, step *workflow.Step) error {
	return b.publish(ctx, event.StepStarted, stepPayload(exec, step))
}

// OnStepCompleted implements StepCompleted.
func (b *EventBridge) OnStepCompleted(ctx context.Context, exec *workflow.Execution, step *workflow.Step, res *workflow.StepResult, elapsed time.Duration) error {
	payload := stepPayload(exec, step)
	payload["status"] = string(res.Status)
	payload["retries"] = res.RetryCount
	payload["elapsed_ms"] = elapsed.Milliseconds()
	return b.publish(ctx, event.StepCompleted, payload)
}

// OnStepFailed implements StepFailed.
func (b *EventBridge) OnStepFailed(ctx context.Context, exec *workflow.Execution, step *workflow.Step, stepErr error) error {
	payload := stepPayload(exec, step)
	if stepErr != nil {
		payload["error"] = stepErr.Error()
	}
	return b.publish(ctx, event.StepFailed, payload)
}

// OnTxStarted implements TxStarted.
func (b *EventBridge) OnTxStarted(ctx context.Context, tx *txn.Transaction) error {
	return b.publish(ctx, event.TxStarted, txPayload(tx))
}

// OnTxCommitted implements TxCommitted.
func (b *EventBridge) OnTxCommitted(ctx context.Context, tx *txn.Transaction) error {
	return b.publish(ctx, event.TxCommitted, txPayload(tx))
}

// OnTxRolledBack implements TxRolledBack.
func (b *EventBridge) OnTxRolledBack(ctx context.Context, tx *txn.Transaction) error {
	return b.publish(ctx, event.TxRolledBack, txPayload(tx))
}

// OnTxFailed implements TxFailed.
func (b *EventBridge) OnTxFailed(ctx context.Context, tx *txn.Transaction, txErr error) error {
	payload := txPayload(tx)
	if txErr != nil {
		payload["error"] = txErr.Error()
	}
	return b.publish(ctx, event.TxFailed, payload)
}

// OnTxTimedOut implements TxTimedOut.
func (b *EventBridge) OnTxTimedOut(ctx context.Context, tx *txn.Transaction) error {
	return b.publish(ctx, event.TxTimedOut, txPayload(tx))
}

// LoggingExtension writes structured log lines for workflow and
// transaction lifecycle events. Registered by default by the engine.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension creates a logging extension.
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{logger: logger}
}

// Name implements Extension.
func (l *LoggingExtension) Name() string { return "logging" }

// OnWorkflowStarted implements WorkflowStarted.
func (l *LoggingExtension) OnWorkflowStarted(ctx context.Context, exec *workflow.Execution) error {
	l.logger.Info("workflow started",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID),
	)
	return nil
}

// OnWorkflowCompleted implements WorkflowCompleted.
func (l *LoggingExtension) OnWorkflowCompleted(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	l.logger.Info("workflow completed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// OnWorkflowFailed implements WorkflowFailed.
func (l *LoggingExtension) OnWorkflowFailed(ctx context.Context, exec *workflow.Execution, execErr error) error {
	l.logger.Error("workflow failed",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID),
		slog.Any("error", execErr),
	)
	return nil
}

// OnWorkflowCancelled implements WorkflowCancelled.
func (l *LoggingExtension) OnWorkflowCancelled(ctx context.Context, exec *workflow.Execution) error {
	l.logger.Warn("workflow cancelled",
		slog.String("execution_id", exec.ID.String()),
		slog.String("workflow_id", exec.WorkflowID),
	)
	return nil
}

// OnTxCommitted implements TxCommitted.
func (l *LoggingExtension) OnTxCommitted(ctx context.Context, tx *txn.Transaction) error {
	l.logger.Info("transaction committed", slog.String("tx_id", tx.ID.String()))
	return nil
}

// OnTxRolledBack implements TxRolledBack.
func (l *LoggingExtension) OnTxRolledBack(ctx context.Context, tx *txn.Transaction) error {
	l.logger.Warn("transaction rolled back", slog.String("tx_id", tx.ID.String()))
	return nil
}

// OnTxFailed implements TxFailed.
func (l *LoggingExtension) OnTxFailed(ctx context.Context, tx *txn.Transaction, txErr error) error {
	l.logger.Error("transaction failed",
		slog.String("tx_id", tx.ID.String()),
		slog.Any("error", txErr),
	)
	return nil
}

// OnTxTimedOut implements TxTimedOut.
func (l *LoggingExtension) OnTxTimedOut(ctx context.Context, tx *txn.Transaction) error {
	l.logger.Error("transaction timed out", slog.String("tx_id", tx.ID.String()))
	return nil
}
