package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conducthq/conduct/ext"
	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.WorkflowCancelled = (*MetricsExtension)(nil)
	_ ext.StepCompleted     = (*MetricsExtension)(nil)
	_ ext.StepFailed        = (*MetricsExtension)(nil)
	_ ext.TxCommitted       = (*MetricsExtension)(nil)
	_ ext.TxRolledBack      = (*MetricsExtension)(nil)
	_ ext.TxFailed          = (*MetricsExtension)(nil)
	_ ext.TxTimedOut        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via
// OpenTelemetry. Register it as a Conduct extension to automatically
// track workflow execution rates, durations, step outcomes, and
// transaction resolutions.
type MetricsExtension struct {
	workflowStarted   metric.Int64Counter
	workflowCompleted metric.Int64Counter
	workflowFailed    metric.Int64Counter
	workflowCancelled metric.Int64Counter
	workflowDuration  metric.Float64Histogram
	stepCompleted     metric.Int64Counter
	stepFailed        metric.Int64Counter
	txCommitted       metric.Int64Counter
	txRolledBack      metric.Int64Counter
	txFailed          metric.Int64Counter
	txTimedOut        metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("conduct/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension recording to
// the provided meter. Instrument creation on the standard SDK only
// fails for invalid names, so errors are discarded.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.workflowStarted, _ = meter.Int64Counter("conduct.workflow.started",
		metric.WithDescription("Workflow executions started"))
	m.workflowCompleted, _ = meter.Int64Counter("conduct.workflow.completed",
		metric.WithDescription("Workflow executions completed"))
	m.workflowFailed, _ = meter.Int64Counter("conduct.workflow.failed",
		metric.WithDescription("Workflow executions failed"))
	m.workflowCancelled, _ = meter.Int64Counter("conduct.workflow.cancelled",
		metric.WithDescription("Workflow executions cancelled"))
	m.workflowDuration, _ = meter.Float64Histogram("conduct.workflow.duration",
		metric.WithDescription("Workflow execution duration"),
		metric.WithUnit("s"))
	m.stepCompleted, _ = meter.Int64Counter("conduct.step.completed",
		metric.WithDescription("Steps completed"))
	m.stepFailed, _ = meter.Int64Counter("conduct.step.failed",
		metric.WithDescription("Steps failed terminally"))
	m.txCommitted, _ = meter.Int64Counter("conduct.tx.committed",
		metric.WithDescription("Transactions committed"))
	m.txRolledBack, _ = meter.Int64Counter("conduct.tx.rolled_back",
		metric.WithDescription("Transactions rolled back"))
	m.txFailed, _ = meter.Int64Counter("conduct.tx.failed",
		metric.WithDescription("Transactions failed"))
	m.txTimedOut, _ = meter.Int64Counter("conduct.tx.timed_out",
		metric.WithDescription("Transactions timed out"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttrs(exec *workflow.Execution) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("workflow_id", exec.WorkflowID))
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, exec *workflow.Execution) error {
	m.workflowStarted.Add(ctx, 1, workflowAttrs(exec))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	m.workflowCompleted.Add(ctx, 1, workflowAttrs(exec))
	m.workflowDuration.Record(ctx, elapsed.Seconds(), workflowAttrs(exec))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, exec *workflow.Execution, _ error) error {
	m.workflowFailed.Add(ctx, 1, workflowAttrs(exec))
	return nil
}

// OnWorkflowCancelled implements ext.WorkflowCancelled.
func (m *MetricsExtension) OnWorkflowCancelled(ctx context.Context, exec *workflow.Execution) error {
	m.workflowCancelled.Add(ctx, 1, workflowAttrs(exec))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, exec *workflow.Execution, step *workflow.Step, _ *workflow.StepResult, _ time.Duration) error {
	m.stepCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", exec.WorkflowID),
		attribute.String("step_id", step.ID),
	))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, exec *workflow.Execution, step *workflow.Step, _ error) error {
	m.stepFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", exec.WorkflowID),
		attribute.String("step_id", step.ID),
	))
	return nil
}

// ── Transaction lifecycle hooks ─────────────────────

// OnTxCommitted implements ext.TxCommitted.
func (m *MetricsExtension) OnTxCommitted(ctx context.Context, _ *txn.Transaction) error {
	m.txCommitted.Add(ctx, 1)
	return nil
}

// OnTxRolledBack implements ext.TxRolledBack.
func (m *MetricsExtension) OnTxRolledBack(ctx context.Context, _ *txn.Transaction) error {
	m.txRolledBack.Add(ctx, 1)
	return nil
}

// OnTxFailed implements ext.TxFailed.
func (m *MetricsExtension) OnTxFailed(ctx context.Context, _ *txn.Transaction, _ error) error {
	m.txFailed.Add(ctx, 1)
	return nil
}

// OnTxTimedOut implements ext.TxTimedOut.
func (m *MetricsExtension) OnTxTimedOut(ctx context.Context, _ *txn.Transaction) error {
	m.txTimedOut.Add(ctx, 1)
	return nil
}
