package workflow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/id"
)

// ExecutionState is the lifecycle state of a workflow execution.
// Transitions: Pending → Running → {Completed, Failed, Cancelled}.
// No state is re-entrant.
type ExecutionState string

const (
	// ExecutionPending means the execution was created but not started.
	ExecutionPending ExecutionState = "pending"
	// ExecutionRunning means steps are being driven.
	ExecutionRunning ExecutionState = "running"
	// ExecutionCompleted means the run finished. Non-critical step
	// failures still complete; check per-step results.
	ExecutionCompleted ExecutionState = "completed"
	// ExecutionFailed means a critical step failed or the run timed out.
	ExecutionFailed ExecutionState = "failed"
	// ExecutionCancelled means the run was cancelled cooperatively.
	ExecutionCancelled ExecutionState = "cancelled"
)

// Terminal reports whether the state is final.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// Execution is one live run of a workflow. The driving goroutine owns all
// step scheduling; shared data and results are merged only through
// RecordResult, so step goroutines never write them directly. The
// cancellation flag and the timeout timer may fire from other goroutines,
// which is why state transitions go through the mutex and the first
// terminal state wins.
type Execution struct {
	conduct.Entity

	ID         id.ExecutionID     `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	Input      conduct.Document   `json:"input,omitempty"`
	TxID       *id.TransactionID  `json:"tx_id,omitempty"`
	StartedAt  time.Time          `json:"started_at"`

	totalSteps int
	cancelled  atomic.Bool

	mu             sync.Mutex
	state          ExecutionState
	shared         conduct.Document
	results        map[string]*StepResult
	completedOrder []string
	errMsg         string
	completedAt    *time.Time
}

// NewExecution creates a Pending execution seeded with the initial input.
func NewExecution(workflowID string, input conduct.Document, totalSteps int) *Execution {
	return &Execution{
		Entity:     conduct.NewEntity(),
		ID:         id.NewExecutionID(),
		WorkflowID: workflowID,
		Input:      input.Clone(),
		StartedAt:  time.Now().UTC(),
		totalSteps: totalSteps,
		state:      ExecutionPending,
		shared:     input.Clone(),
		results:    make(map[string]*StepResult),
	}
}

// Cancel sets the cooperative cancellation flag. It does not interrupt an
// in-flight plugin invocation; the executor polls the flag at step and
// retry boundaries.
func (e *Execution) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (e *Execution) Cancelled() bool {
	return e.cancelled.Load()
}

// State returns the current lifecycle state.
func (e *Execution) State() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions Pending → Running. Returns false if the execution
// already left Pending.
func (e *Execution) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != ExecutionPending {
		return false
	}
	e.state = ExecutionRunning
	e.Touch()
	return true
}

// Finalize moves the execution to a terminal state. The first terminal
// state wins; later attempts (e.g. a timeout firing after the driver
// already completed) return false and change nothing.
func (e *Execution) Finalize(state ExecutionState, errMsg string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	now := time.Now().UTC()
	e.state = state
	e.errMsg = errMsg
	e.completedAt = &now
	e.Touch()
	return true
}

// RecordResult stores a step result. Completed results are appended to the
// completion order and their output is merged into the shared data (step
// output keys win on collision). Called only by the driving goroutine.
func (e *Execution) RecordResult(res *StepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[res.StepID] = res
	if res.Status == StepCompleted {
		e.completedOrder = append(e.completedOrder, res.StepID)
		if len(res.Output) > 0 {
			e.shared = e.shared.Merge(res.Output)
		}
	}
	e.Touch()
}

// Result returns the recorded result for a step id, if any.
func (e *Execution) Result(stepID string) (*StepResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.results[stepID]
	if !ok {
		return nil, false
	}
	cp := *res
	return &cp, true
}

// SharedState returns a copy of the accumulated shared data document.
func (e *Execution) SharedState() conduct.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shared.Clone()
}

// CompletedSteps returns completed step ids in reverse completion order,
// the order rollback steps should run in.
func (e *Execution) CompletedSteps() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.completedOrder))
	for i, stepID := range e.completedOrder {
		out[len(out)-1-i] = stepID
	}
	return out
}

// Status is a point-in-time snapshot of an execution, safe to serialize.
type Status struct {
	ExecutionID id.ExecutionID         `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	State       ExecutionState         `json:"state"`
	Progress    float64                `json:"progress"`
	Results     map[string]*StepResult `json:"results"`
	SharedData  conduct.Document       `json:"shared_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	TxID        *id.TransactionID      `json:"tx_id,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Status snapshots the execution. Progress is completed steps over total
// steps; a zero-step workflow reports 0.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string]*StepResult, len(e.results))
	for stepID, res := range e.results {
		cp := *res
		results[stepID] = &cp
	}

	var progress float64
	if e.totalSteps > 0 {
		progress = float64(len(e.completedOrder)) / float64(e.totalSteps)
	}

	return Status{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		State:       e.state,
		Progress:    progress,
		Results:     results,
		SharedData:  e.shared.Clone(),
		Error:       e.errMsg,
		TxID:        e.TxID,
		StartedAt:   e.StartedAt,
		CompletedAt: e.completedAt,
	}
}
