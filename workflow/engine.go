package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/graph"
	"github.com/conducthq/conduct/id"
)

// Emitter emits workflow- and step-level lifecycle events. Satisfied by
// *ext.Registry; the engine package plugs them together.
type Emitter interface {
	StepEmitter
	EmitWorkflowStarted(ctx context.Context, exec *Execution)
	EmitWorkflowCompleted(ctx context.Context, exec *Execution, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, exec *Execution, err error)
	EmitWorkflowCancelled(ctx context.Context, exec *Execution)
}

// TxRollbackFunc rolls back the transaction associated with a failed
// execution. Injected by the engine builder to avoid a direct dependency
// on the transaction coordinator.
type TxRollbackFunc func(ctx context.Context, txID id.TransactionID) error

// Engine drives workflow executions: it resolves the dependency order,
// walks it in the definition's mode, merges step outputs into shared
// state, and reacts to cancellation, criticality, and timeouts.
type Engine struct {
	registry   *Registry
	store      Store
	executor   *Executor
	emitter    Emitter
	config     conduct.Config
	logger     *slog.Logger
	txRollback TxRollbackFunc

	mu     sync.RWMutex
	active map[id.ExecutionID]*Execution
}

// NewEngine creates a workflow engine.
func NewEngine(
	registry *Registry,
	store Store,
	executor *Executor,
	emitter Emitter,
	cfg conduct.Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		store:    store,
		executor: executor,
		emitter:  emitter,
		config:   cfg,
		logger:   logger,
		active:   make(map[id.ExecutionID]*Execution),
	}
}

// Registry returns the workflow registry.
func (g *Engine) Registry() *Registry { return g.registry }

// SetTxRollback installs the rollback hook invoked when an execution with
// an associated transaction fails.
func (g *Engine) SetTxRollback(fn TxRollbackFunc) { g.txRollback = fn }

// ExecOptions controls a single Execute call.
type ExecOptions struct {
	// Async runs the execution on a background goroutine; Execute returns
	// as soon as the execution is registered.
	Async bool
	// TxID associates the execution with a coordinated transaction.
	TxID *id.TransactionID
	// Timeout overrides the definition's timeout for this run.
	Timeout time.Duration
}

// ExecOption mutates ExecOptions.
type ExecOption func(*ExecOptions)

// WithAsync runs the execution in the background.
func WithAsync() ExecOption {
	return func(o *ExecOptions) { o.Async = true }
}

// WithTransaction associates the execution with a transaction. On
// execution failure the engine invokes the configured rollback hook.
func WithTransaction(txID id.TransactionID) ExecOption {
	return func(o *ExecOptions) { o.TxID = &txID }
}

// WithExecTimeout overrides the workflow timeout for this run.
func WithExecTimeout(d time.Duration) ExecOption {
	return func(o *ExecOptions) { o.Timeout = d }
}

// Execute starts a run of the registered workflow. Synchronous by
// default: it returns once the execution reaches a terminal state. With
// WithAsync it returns immediately and the run proceeds in the
// background; poll Status or listen for lifecycle events.
func (g *Engine) Execute(ctx context.Context, workflowID string, input conduct.Document, opts ...ExecOption) (*Execution, error) {
	def, err := g.registry.Get(workflowID)
	if err != nil {
		return nil, err
	}

	var o ExecOptions
	for _, opt := range opts {
		opt(&o)
	}

	if def.Condition != nil && !def.Condition(input) {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, conduct.ErrConditionFalse)
	}

	// The registry validated the graph at register time; resolution here
	// cannot cycle.
	order, err := graph.Resolve(def.Dependencies())
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, err)
	}

	exec := NewExecution(def.ID, input, len(def.Steps))
	exec.TxID = o.TxID

	if err := g.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution for workflow %q: %w", workflowID, err)
	}

	g.mu.Lock()
	g.active[exec.ID] = exec
	g.mu.Unlock()

	timeout := o.Timeout
	if timeout == 0 {
		timeout = def.Timeout
	}
	if timeout == 0 {
		timeout = g.config.DefaultWorkflowTimeout
	}

	if o.Async {
		go g.run(context.WithoutCancel(ctx), def, exec, order, timeout)
		return exec, nil
	}
	g.run(ctx, def, exec, order, timeout)
	return exec, nil
}

// run drives one execution to a terminal state.
func (g *Engine) run(ctx context.Context, def *Definition, exec *Execution, order []string, timeout time.Duration) {
	exec.Start()
	g.emitter.EmitWorkflowStarted(ctx, exec)
	start := time.Now()

	// A non-positive timeout means the run has no deadline.
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			exec.Cancel()
			g.fail(context.WithoutCancel(ctx), exec,
				fmt.Errorf("workflow %q: %w after %s", def.ID, conduct.ErrExecutionTimeout, timeout))
		})
		defer timer.Stop()
	}

	var err error
	switch def.Mode {
	case ModeParallel:
		err = g.runParallel(ctx, def, exec, order)
	case ModePipeline:
		err = g.runPipeline(ctx, def, exec, order)
	default: // ModeSequential, ModeConditional
		err = g.runSequential(ctx, def, exec, order)
	}

	switch {
	case err == nil:
		if exec.Finalize(ExecutionCompleted, "") {
			g.removeActive(exec.ID)
			g.emitter.EmitWorkflowCompleted(ctx, exec, time.Since(start))
		}
	case errors.Is(err, conduct.ErrExecutionCancelled):
		if exec.Finalize(ExecutionCancelled, err.Error()) {
			g.removeActive(exec.ID)
			g.emitter.EmitWorkflowCancelled(ctx, exec)
		}
	default:
		g.fail(ctx, exec, err)
	}
}

// fail moves the execution to Failed if it has not already terminated,
// emitting the failure event and rolling back any associated transaction.
func (g *Engine) fail(ctx context.Context, exec *Execution, err error) {
	if !exec.Finalize(ExecutionFailed, err.Error()) {
		return
	}
	g.removeActive(exec.ID)
	g.emitter.EmitWorkflowFailed(ctx, exec, err)

	if exec.TxID != nil && g.txRollback != nil {
		if rbErr := g.txRollback(ctx, *exec.TxID); rbErr != nil {
			g.logger.Error("transaction rollback after execution failure failed",
				slog.String("execution_id", exec.ID.String()),
				slog.String("tx_id", exec.TxID.String()),
				slog.String("error", rbErr.Error()),
			)
		}
	}
}

// runSequential walks the resolved order one step at a time.
func (g *Engine) runSequential(ctx context.Context, def *Definition, exec *Execution, order []string) error {
	for _, stepID := range order {
		if exec.Cancelled() {
			return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrExecutionCancelled)
		}
		step := def.Steps[stepID]

		if blocked := g.blockingDep(exec, step); blocked != "" {
			g.recordBlocked(exec, step, blocked)
			continue
		}
		if step.Condition != nil && !step.Condition(exec.SharedState()) {
			g.recordSkipped(exec, step)
			continue
		}

		res := g.executor.ExecuteStep(ctx, exec, step, exec.SharedState())
		exec.RecordResult(res)

		if err := g.checkResult(def, step, res); err != nil {
			return err
		}
	}
	return nil
}

// runPipeline walks the order sequentially, feeding each completed step's
// output document to the next step as its parameter base.
func (g *Engine) runPipeline(ctx context.Context, def *Definition, exec *Execution, order []string) error {
	base := exec.SharedState()
	for _, stepID := range order {
		if exec.Cancelled() {
			return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrExecutionCancelled)
		}
		step := def.Steps[stepID]

		if blocked := g.blockingDep(exec, step); blocked != "" {
			g.recordBlocked(exec, step, blocked)
			continue
		}
		if step.Condition != nil && !step.Condition(exec.SharedState()) {
			g.recordSkipped(exec, step)
			continue
		}

		res := g.executor.ExecuteStep(ctx, exec, step, base)
		exec.RecordResult(res)

		if err := g.checkResult(def, step, res); err != nil {
			return err
		}
		if res.Status == StepCompleted && len(res.Output) > 0 {
			base = res.Output.Clone()
		}
	}
	return nil
}

// runParallel runs dependency-independent steps concurrently in waves.
// Step goroutines never write shared state; the driving goroutine records
// all results after each wave.
func (g *Engine) runParallel(ctx context.Context, def *Definition, exec *Execution, order []string) error {
	remaining := order
	var criticalFailed atomic.Bool

	for len(remaining) > 0 {
		if exec.Cancelled() {
			return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrExecutionCancelled)
		}

		// Partition into this wave (all deps terminal and completed),
		// permanently blocked steps, and steps waiting on a later wave.
		var wave []*Step
		var next []string
		for _, stepID := range remaining {
			step := def.Steps[stepID]
			ready := true
			blocked := ""
			for _, dep := range step.DependsOn {
				res, ok := exec.Result(dep)
				if !ok || !res.Status.Terminal() {
					ready = false
					break
				}
				if res.Status != StepCompleted {
					blocked = dep
				}
			}
			switch {
			case !ready:
				next = append(next, stepID)
			case blocked != "":
				g.recordBlocked(exec, step, blocked)
			default:
				wave = append(wave, step)
			}
		}

		if len(wave) == 0 {
			// Whatever is left depends (transitively) on steps that will
			// never complete.
			for _, stepID := range next {
				g.recordBlocked(exec, def.Steps[stepID], "")
			}
			return nil
		}

		results := make([]*StepResult, len(wave))
		grp, gctx := errgroup.WithContext(ctx)
		if g.config.MaxConcurrentSteps > 0 {
			grp.SetLimit(g.config.MaxConcurrentSteps)
		}
		for i, step := range wave {
			grp.Go(func() error {
				// A critical failure in a wave peer stops everything that
				// has not started yet.
				if criticalFailed.Load() || exec.Cancelled() {
					return nil
				}
				if step.Condition != nil && !step.Condition(exec.SharedState()) {
					now := time.Now().UTC()
					results[i] = &StepResult{
						StepID:      step.ID,
						Status:      StepSkipped,
						StartedAt:   now,
						CompletedAt: &now,
					}
					return nil
				}
				res := g.executor.ExecuteStep(gctx, exec, step, exec.SharedState())
				results[i] = res
				if res.Status == StepFailed && step.Critical {
					criticalFailed.Store(true)
				}
				return nil
			})
		}
		_ = grp.Wait()

		// Merge serialized in the driving goroutine.
		var criticalErr error
		cancelled := false
		for i, step := range wave {
			if results[i] == nil {
				continue // never started
			}
			exec.RecordResult(results[i])
			switch results[i].Status {
			case StepFailed:
				if step.Critical && criticalErr == nil {
					criticalErr = fmt.Errorf("workflow %q: critical step %q failed: %s",
						def.ID, step.ID, results[i].Error)
				}
			case StepCancelled:
				cancelled = true
			}
		}
		if criticalErr != nil {
			return criticalErr
		}
		if cancelled || exec.Cancelled() {
			return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrExecutionCancelled)
		}
		remaining = next
	}
	return nil
}

// blockingDep returns the id of a dependency that did not complete, or ""
// if all dependencies are satisfied. A Skipped or Failed dependency blocks
// its dependents.
func (g *Engine) blockingDep(exec *Execution, step *Step) string {
	for _, dep := range step.DependsOn {
		res, ok := exec.Result(dep)
		if !ok || res.Status != StepCompleted {
			return dep
		}
	}
	return ""
}

func (g *Engine) recordBlocked(exec *Execution, step *Step, dep string) {
	msg := "blocked: dependency did not complete"
	if dep != "" {
		msg = fmt.Sprintf("blocked: dependency %q did not complete", dep)
	}
	exec.RecordResult(&StepResult{
		StepID:    step.ID,
		Status:    StepPending,
		Error:     msg,
		StartedAt: time.Now().UTC(),
	})
	g.logger.Debug("step blocked",
		slog.String("execution_id", exec.ID.String()),
		slog.String("step_id", step.ID),
		slog.String("dependency", dep),
	)
}

func (g *Engine) recordSkipped(exec *Execution, step *Step) {
	now := time.Now().UTC()
	exec.RecordResult(&StepResult{
		StepID:      step.ID,
		Status:      StepSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	})
}

// checkResult translates a step result into run control flow.
func (g *Engine) checkResult(def *Definition, step *Step, res *StepResult) error {
	switch res.Status {
	case StepCancelled:
		return fmt.Errorf("workflow %q: %w", def.ID, conduct.ErrExecutionCancelled)
	case StepFailed:
		if step.Critical {
			return fmt.Errorf("workflow %q: critical step %q failed: %s", def.ID, step.ID, res.Error)
		}
	}
	return nil
}

// Cancel sets the cooperative cancellation flag on a live execution.
func (g *Engine) Cancel(executionID id.ExecutionID) error {
	g.mu.RLock()
	exec, ok := g.active[executionID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, conduct.ErrExecutionNotFound)
	}
	exec.Cancel()
	return nil
}

// Status returns a snapshot of an execution, live or terminal.
func (g *Engine) Status(ctx context.Context, executionID id.ExecutionID) (Status, error) {
	g.mu.RLock()
	exec, ok := g.active[executionID]
	g.mu.RUnlock()
	if !ok {
		var err error
		exec, err = g.store.GetExecution(ctx, executionID)
		if err != nil {
			return Status{}, err
		}
	}
	return exec.Status(), nil
}

// ListActive returns the currently running executions, oldest first.
func (g *Engine) ListActive() []*Execution {
	g.mu.RLock()
	defer g.mu.RUnlock()
	execs := make([]*Execution, 0, len(g.active))
	for _, exec := range g.active {
		execs = append(execs, exec)
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.Before(execs[j].StartedAt) })
	return execs
}

// CompletedSteps returns the completed step ids of an execution in
// reverse completion order — the order rollback should run in.
func (g *Engine) CompletedSteps(ctx context.Context, executionID id.ExecutionID) ([]string, error) {
	exec, err := g.lookup(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return exec.CompletedSteps(), nil
}

// Rollback runs the definition's registered rollback steps for every
// completed step of the execution, in reverse completion order. Rollback
// is best-effort: individual rollback failures are collected and returned
// together, never short-circuiting the remaining ones.
func (g *Engine) Rollback(ctx context.Context, executionID id.ExecutionID) error {
	exec, err := g.lookup(ctx, executionID)
	if err != nil {
		return err
	}
	def, err := g.registry.Get(exec.WorkflowID)
	if err != nil {
		return err
	}

	var errs []error
	for _, stepID := range exec.CompletedSteps() {
		rb, ok := def.RollbackSteps[stepID]
		if !ok {
			continue
		}
		g.logger.Info("running rollback step",
			slog.String("execution_id", exec.ID.String()),
			slog.String("step_id", stepID),
			slog.String("rollback_step_id", rb.ID),
		)
		res := g.executor.ExecuteStep(ctx, exec, rb, exec.SharedState())
		if res.Status != StepCompleted {
			errs = append(errs, fmt.Errorf("rollback of step %q (%s): %s", stepID, rb.ID, res.Error))
		}
	}
	return errors.Join(errs...)
}

func (g *Engine) lookup(ctx context.Context, executionID id.ExecutionID) (*Execution, error) {
	g.mu.RLock()
	exec, ok := g.active[executionID]
	g.mu.RUnlock()
	if ok {
		return exec, nil
	}
	return g.store.GetExecution(ctx, executionID)
}

func (g *Engine) removeActive(executionID id.ExecutionID) {
	g.mu.Lock()
	delete(g.active, executionID)
	g.mu.Unlock()
}
