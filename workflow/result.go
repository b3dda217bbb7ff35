package workflow

import (
	"time"

	"github.com/conducthq/conduct"
)

// StepStatus is the lifecycle status of one step within an execution.
type StepStatus string

const (
	// StepPending means the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning means the step is currently invoking its target.
	StepRunning StepStatus = "running"
	// StepRetrying means the last attempt failed and the executor is
	// waiting out the retry delay.
	StepRetrying StepStatus = "retrying"
	// StepCompleted means the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed means the step exhausted its retries or hit a
	// non-retryable error.
	StepFailed StepStatus = "failed"
	// StepSkipped means the step's condition evaluated false.
	StepSkipped StepStatus = "skipped"
	// StepCancelled means the owning execution was cancelled mid-step.
	StepCancelled StepStatus = "cancelled"
)

// Terminal reports whether the status is final. A StepResult never changes
// status once terminal.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// StepResult records the outcome of one step within one execution.
type StepResult struct {
	StepID      string           `json:"step_id"`
	Status      StepStatus       `json:"status"`
	Output      conduct.Document `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	RetryCount  int              `json:"retry_count,omitempty"`
}
