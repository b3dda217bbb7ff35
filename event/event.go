// Package event provides the notification bus: lifecycle changes of
// workflows, steps, and transactions are published as observable events
// rather than polled. Integration layers subscribe by name to react to
// completions, failures, and rollbacks.
package event

import (
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// Well-known event names published by the lifecycle bridge.
const (
	WorkflowStarted   = "workflow.started"
	WorkflowCompleted = "workflow.completed"
	WorkflowFailed    = "workflow.failed"
	WorkflowCancelled = "workflow.cancelled"
	StepStarted       = "step.started"
	StepCompleted     = "step.completed"
	StepFailed        = "step.failed"
	TxStarted         = "tx.started"
	TxCommitted       = "tx.committed"
	TxRolledBack      = "tx.rolled_back"
	TxFailed          = "tx.failed"
	TxTimedOut        = "tx.timed_out"
)

// Event is a named notification published to the bus.
type Event struct {
	ID        id.EventID       `json:"id"`
	Name      string           `json:"name"`
	Payload   conduct.Document `json:"payload,omitempty"`
	Acked     bool             `json:"acked"`
	CreatedAt time.Time        `json:"created_at"`
}
