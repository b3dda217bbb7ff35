package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/backoff"
	"github.com/conducthq/conduct/limiter"
	mw "github.com/conducthq/conduct/middleware"
	"github.com/conducthq/conduct/plugin"
)

// admissionPoll is how often a step waiting on limiter admission rechecks.
const admissionPoll = 10 * time.Millisecond

// StepEmitter emits step-level lifecycle events. Satisfied by
// *ext.Registry; the engine package plugs them together.
type StepEmitter interface {
	EmitStepStarted(ctx context.Context, exec *Execution, step *Step)
	EmitStepCompleted(ctx context.Context, exec *Execution, step *Step, res *StepResult, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, exec *Execution, step *Step, err error)
}

// Executor runs one step against its target plugin, applying timeout and
// retry policy and returning a terminal StepResult. It never touches the
// execution's shared state directly; the engine records results.
type Executor struct {
	resolver  plugin.Resolver
	contracts *plugin.ContractRegistry
	limits    *limiter.Manager
	chain     mw.Middleware
	emitter   StepEmitter
	strategy  backoff.Strategy
	config    conduct.Config
	logger    *slog.Logger
}

// NewExecutor creates a step executor. The contract registry, limiter, and
// middleware chain are optional and wired by the engine builder.
func NewExecutor(resolver plugin.Resolver, emitter StepEmitter, cfg conduct.Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver: resolver,
		chain:    mw.Chain(),
		emitter:  emitter,
		strategy: backoff.DefaultStrategy(),
		config:   cfg,
		logger:   logger,
	}
}

// SetContracts installs the service contract registry used to resolve
// steps that name a logical service instead of a raw plugin id.
func (e *Executor) SetContracts(contracts *plugin.ContractRegistry) {
	e.contracts = contracts
}

// SetLimits installs the per-plugin invocation limiter.
func (e *Executor) SetLimits(limits *limiter.Manager) {
	e.limits = limits
}

// SetChain installs the middleware chain wrapped around every invocation
// attempt.
func (e *Executor) SetChain(chain mw.Middleware) {
	e.chain = chain
}

// SetBackoff installs the retry delay strategy used when a step does not
// declare an explicit RetryDelay.
func (e *Executor) SetBackoff(strategy backoff.Strategy) {
	e.strategy = strategy
}

// ExecuteStep runs one step to a terminal result. Invocation parameters
// are built by shallow-merging the step's params over base (step params
// win). Target resolution failures are terminal immediately; only the
// invocation itself is retried. Cancellation is polled between attempts.
func (e *Executor) ExecuteStep(ctx context.Context, exec *Execution, step *Step, base conduct.Document) *StepResult {
	res := &StepResult{
		StepID:    step.ID,
		Status:    StepRunning,
		StartedAt: time.Now().UTC(),
	}
	e.emitter.EmitStepStarted(ctx, exec, step)

	params := base.Merge(step.Params)

	pluginID := step.PluginID
	if step.Service != "" {
		if e.contracts == nil {
			err := fmt.Errorf("step %q names service %q but no contract registry is configured: %w",
				step.ID, step.Service, conduct.ErrProviderNotFound)
			e.fail(ctx, exec, step, res, err, 0)
			return res
		}
		pid, err := e.contracts.FindProvider(step.Service, step.MinVersion)
		if err != nil {
			e.fail(ctx, exec, step, res, err, 0)
			return res
		}
		pluginID = pid
	}

	handle, err := e.resolver.Resolve(pluginID)
	if err != nil {
		// Resolution failure is not retried.
		e.fail(ctx, exec, step, res, err, 0)
		return res
	}

	maxRetries := step.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.config.DefaultMaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeout := step.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultStepTimeout
	}
	strategy := e.strategy
	if step.RetryDelay > 0 {
		strategy = backoff.NewConstant(step.RetryDelay)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if exec.Cancelled() {
			e.cancel(res, attempt)
			return res
		}
		if attempt > 0 {
			res.Status = StepRetrying
			res.RetryCount = attempt
			delay := strategy.Delay(attempt)
			e.logger.Debug("retrying step",
				slog.String("execution_id", exec.ID.String()),
				slog.String("step_id", step.ID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			time.Sleep(delay)
			if exec.Cancelled() {
				e.cancel(res, attempt)
				return res
			}
		}

		out, invErr := e.invoke(ctx, exec, step, handle, pluginID, params, timeout, attempt+1)
		if errors.Is(invErr, conduct.ErrExecutionCancelled) {
			e.cancel(res, attempt)
			return res
		}
		if invErr == nil {
			now := time.Now().UTC()
			res.Status = StepCompleted
			res.Output = out
			res.RetryCount = attempt
			res.CompletedAt = &now
			e.emitter.EmitStepCompleted(ctx, exec, step, res, now.Sub(res.StartedAt))
			return res
		}
		lastErr = invErr
	}

	e.fail(ctx, exec, step, res, lastErr, maxRetries)
	return res
}

// invoke performs a single invocation attempt through the middleware
// chain, waiting for limiter admission first.
func (e *Executor) invoke(
	ctx context.Context,
	exec *Execution,
	step *Step,
	handle plugin.Handle,
	pluginID string,
	params conduct.Document,
	timeout time.Duration,
	attempt int,
) (conduct.Document, error) {
	if e.limits != nil {
		for !e.limits.Acquire(pluginID) {
			if exec.Cancelled() {
				return nil, conduct.ErrExecutionCancelled
			}
			time.Sleep(admissionPoll)
		}
		defer e.limits.Release(pluginID)
	}

	inv := &mw.Invocation{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		StepName:    step.Name,
		PluginID:    pluginID,
		Operation:   step.Operation,
		Timeout:     timeout,
		Attempt:     attempt,
		Critical:    step.Critical,
	}

	var out conduct.Document
	err := e.chain(ctx, inv, func(ctx context.Context) error {
		var invErr error
		out, invErr = handle.Invoke(ctx, step.Operation, params)
		return invErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) fail(ctx context.Context, exec *Execution, step *Step, res *StepResult, err error, retries int) {
	now := time.Now().UTC()
	res.Status = StepFailed
	res.Error = err.Error()
	res.RetryCount = retries
	res.CompletedAt = &now
	e.emitter.EmitStepFailed(ctx, exec, step, err)
}

func (e *Executor) cancel(res *StepResult, retries int) {
	now := time.Now().UTC()
	res.Status = StepCancelled
	res.Error = conduct.ErrExecutionCancelled.Error()
	res.RetryCount = retries
	res.CompletedAt = &now
}
