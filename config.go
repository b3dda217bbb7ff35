package conduct

import "time"

// Config holds configuration for a Conductor.
type Config struct {
	// DefaultStepTimeout applies to steps that do not set their own
	// timeout. Zero disables the per-step deadline.
	DefaultStepTimeout time.Duration

	// DefaultMaxRetries applies to steps that do not set MaxRetries.
	DefaultMaxRetries int

	// DefaultRetryDelay is the base delay between step retry attempts
	// for steps that do not set RetryDelay.
	DefaultRetryDelay time.Duration

	// DefaultWorkflowTimeout applies to workflow executions whose
	// definition does not set an overall timeout. Zero disables it.
	DefaultWorkflowTimeout time.Duration

	// DefaultTransactionTimeout applies to transactions begun without
	// an explicit timeout. Zero disables the deadline.
	DefaultTransactionTimeout time.Duration

	// MaxConcurrentSteps bounds how many steps of one parallel
	// execution may run simultaneously. Zero means unbounded.
	MaxConcurrentSteps int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStepTimeout:        30 * time.Second,
		DefaultMaxRetries:         3,
		DefaultRetryDelay:         500 * time.Millisecond,
		DefaultWorkflowTimeout:    5 * time.Minute,
		DefaultTransactionTimeout: time.Minute,
		MaxConcurrentSteps:        8,
		ShutdownTimeout:           30 * time.Second,
	}
}
