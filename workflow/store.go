package workflow

import (
	"context"

	"github.com/conducthq/conduct/id"
)

// ListOpts controls filtering and pagination for execution list queries.
type ListOpts struct {
	// Limit is the maximum number of executions to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
	// State filters by execution state. Empty means all states.
	State ExecutionState
	// WorkflowID filters by workflow id. Empty means all workflows.
	WorkflowID string
}

// Store is the execution registry: it tracks every execution the engine
// has created, live and terminal. Executions are stored by reference —
// the engine mutates them in place through their own synchronization.
type Store interface {
	// CreateExecution records a new execution.
	CreateExecution(ctx context.Context, exec *Execution) error

	// GetExecution retrieves an execution by id.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// ListExecutions returns executions matching the given options,
	// newest first.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// DeleteExecution removes an execution record.
	DeleteExecution(ctx context.Context, execID id.ExecutionID) error
}
