package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/conducthq/conduct/observability"
	"github.com/conducthq/conduct/workflow"
)

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(provider.Meter("test")), reader
}

func newTestExecution() *workflow.Execution {
	return workflow.NewExecution("order-flow", nil, 2)
}

// counterValue collects from the reader and returns the summed value of
// the named Int64 counter, or -1 if absent.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return -1
}

func TestMetricsExtensionName(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtensionWorkflowCounters(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()
	exec := newTestExecution()

	if err := e.OnWorkflowStarted(ctx, exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnWorkflowCompleted(ctx, exec, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnWorkflowFailed(ctx, exec, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnWorkflowCancelled(ctx, exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, want := range map[string]int64{
		"conduct.workflow.started":   1,
		"conduct.workflow.completed": 1,
		"conduct.workflow.failed":    1,
		"conduct.workflow.cancelled": 1,
	} {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestMetricsExtensionStepCounters(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()
	exec := newTestExecution()
	step := &workflow.Step{ID: "reserve", PluginID: "inventory"}

	if err := e.OnStepCompleted(ctx, exec, step, &workflow.StepResult{StepID: step.ID}, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnStepFailed(ctx, exec, step, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := counterValue(t, reader, "conduct.step.completed"); got != 1 {
		t.Errorf("step completed: want 1, got %d", got)
	}
	if got := counterValue(t, reader, "conduct.step.failed"); got != 1 {
		t.Errorf("step failed: want 1, got %d", got)
	}
}

func TestMetricsExtensionTxCounters(t *testing.T) {
	e, reader := newTestExtension(t)
	ctx := context.Background()

	if err := e.OnTxCommitted(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnTxRolledBack(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnTxFailed(ctx, nil, errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.OnTxTimedOut(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, want := range map[string]int64{
		"conduct.tx.committed":   1,
		"conduct.tx.rolled_back": 1,
		"conduct.tx.failed":      1,
		"conduct.tx.timed_out":   1,
	} {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}
