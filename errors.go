package conduct

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("conduct: no store configured")
	ErrStoreClosed = errors.New("conduct: store closed")

	// Not found errors.
	ErrWorkflowNotFound    = errors.New("conduct: workflow not found")
	ErrExecutionNotFound   = errors.New("conduct: execution not found")
	ErrTransactionNotFound = errors.New("conduct: transaction not found")
	ErrStepNotFound        = errors.New("conduct: step not found")
	ErrPluginNotFound      = errors.New("conduct: plugin not found")
	ErrParticipantNotFound = errors.New("conduct: participant not found")
	ErrProviderNotFound    = errors.New("conduct: no provider for service contract")
	ErrSavepointNotFound   = errors.New("conduct: savepoint not found")
	ErrEventNotFound       = errors.New("conduct: event not found")

	// Conflict errors.
	ErrDuplicateWorkflow    = errors.New("conduct: workflow already registered")
	ErrDuplicatePlugin      = errors.New("conduct: plugin already registered")
	ErrDuplicateParticipant = errors.New("conduct: participant already registered")
	ErrDuplicateExecution   = errors.New("conduct: execution already exists")
	ErrDuplicateTransaction = errors.New("conduct: transaction already exists")

	// Validation errors.
	ErrEmptyWorkflowID = errors.New("conduct: workflow id must not be empty")
	ErrNoSteps         = errors.New("conduct: workflow must define at least one step")
	ErrConditionFalse  = errors.New("conduct: workflow execution condition evaluated false")

	// State errors.
	ErrInvalidState         = errors.New("conduct: invalid state transition")
	ErrTransactionNotActive = errors.New("conduct: transaction is not active")
	ErrExecutionCancelled   = errors.New("conduct: execution cancelled")
	ErrExecutionTimeout     = errors.New("conduct: execution timed out")
)
