package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/conducthq/conduct"
	"github.com/conducthq/conduct/backoff"
	"github.com/conducthq/conduct/event"
	"github.com/conducthq/conduct/ext"
	"github.com/conducthq/conduct/limiter"
	mw "github.com/conducthq/conduct/middleware"
	"github.com/conducthq/conduct/observability"
	"github.com/conducthq/conduct/plugin"
	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// otelScope names the instrumentation scope for engine-built tracers
// and meters.
const otelScope = "github.com/conducthq/conduct"

// Engine wraps a Conductor with fully wired subsystems: workflow engine,
// transaction coordinator, plugin registries, event bus, and extensions.
// Use Build() to create one.
type Engine struct {
	c          *conduct.Conductor
	extensions *ext.Registry

	// Plugin subsystem.
	plugins      *plugin.Registry
	contracts    *plugin.ContractRegistry
	participants *plugin.ParticipantRegistry
	resolver     plugin.Resolver

	// Workflow subsystem.
	workflows *workflow.Engine
	executor  *workflow.Executor

	// Transaction subsystem.
	coordinator *txn.Coordinator

	// Event subsystem.
	eventBus *event.Bus

	// Per-plugin invocation limits.
	limits       *limiter.Manager
	limitConfigs []limiter.Config

	bo  backoff.Strategy
	mws []mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's step invocation chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for step execution.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithResolver replaces the default plugin registry as the step target
// resolver. Use this to route invocations over a transport instead of
// in-process handles.
func WithResolver(r plugin.Resolver) Option {
	return func(eng *Engine) {
		eng.resolver = r
	}
}

// WithPluginLimits registers per-plugin rate limiting and concurrency
// configurations. Plugins not listed have no limits.
func WithPluginLimits(configs ...limiter.Config) Option {
	return func(eng *Engine) {
		eng.limitConfigs = append(eng.limitConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Conductor. The Conductor's store must
// implement workflow.Store, txn.Store, and event.Store; typically it is
// a store.Store backend such as memory.New().
func Build(c *conduct.Conductor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, conduct.ErrNoStore
	}

	ws, ok := store.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement workflow.Store")
	}
	ts, ok := store.(txn.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement txn.Store")
	}
	es, ok := store.(event.Store)
	if !ok {
		return nil, fmt.Errorf("conduct: store does not implement event.Store")
	}

	eng := &Engine{
		c:            c,
		extensions:   ext.NewRegistry(logger),
		plugins:      plugin.NewRegistry(),
		contracts:    plugin.NewContractRegistry(),
		participants: plugin.NewParticipantRegistry(),
		eventBus:     event.NewBus(es),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// The plugin registry resolves steps unless a custom resolver was
	// installed.
	if eng.resolver == nil {
		eng.resolver = eng.plugins
	}

	// Default backoff: exponential with jitter, based at the configured
	// retry delay.
	config := c.Config()
	if eng.bo == nil {
		base := config.DefaultRetryDelay
		if base <= 0 {
			base = 500 * time.Millisecond
		}
		eng.bo = backoff.NewExponentialWithJitter(base, 30*time.Second)
	}

	// Built-in extensions: lifecycle events onto the bus, then metrics.
	eng.extensions.Register(ext.NewEventBridge(eng.eventBus))

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(otelScope + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(otelScope))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(otelScope))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// timeout, with user middleware innermost.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	// Step executor.
	eng.executor = workflow.NewExecutor(eng.resolver, eng.extensions, config, logger)
	eng.executor.SetContracts(eng.contracts)
	eng.executor.SetChain(mw.Chain(allMws...))
	eng.executor.SetBackoff(eng.bo)
	if len(eng.limitConfigs) > 0 {
		eng.limits = limiter.NewManager(eng.limitConfigs...)
		eng.executor.SetLimits(eng.limits)
	}

	// Workflow engine and transaction coordinator.
	eng.workflows = workflow.NewEngine(
		workflow.NewRegistry(logger), ws, eng.executor, eng.extensions, config, logger)
	eng.coordinator = txn.NewCoordinator(eng.participants, ts, eng.extensions, config, logger)

	// A failed execution rolls back its associated transaction.
	eng.workflows.SetTxRollback(eng.coordinator.Rollback)

	// Wire back into the Conductor so Close notifies extensions.
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// Workflows returns the workflow engine.
func (eng *Engine) Workflows() *workflow.Engine { return eng.workflows }

// Transactions returns the transaction coordinator.
func (eng *Engine) Transactions() *txn.Coordinator { return eng.coordinator }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Plugins returns the plugin registry.
func (eng *Engine) Plugins() *plugin.Registry { return eng.plugins }

// Contracts returns the service contract registry.
func (eng *Engine) Contracts() *plugin.ContractRegistry { return eng.contracts }

// Participants returns the transaction participant registry.
func (eng *Engine) Participants() *plugin.ParticipantRegistry { return eng.participants }

// EventBus returns the event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.eventBus }

// Limits returns the per-plugin limiter manager, or nil if no limit
// configs were provided.
func (eng *Engine) Limits() *limiter.Manager { return eng.limits }

// Conductor returns the underlying Conductor.
func (eng *Engine) Conductor() *conduct.Conductor { return eng.c }

// RegisterWorkflow registers a workflow definition. Shorthand for
// Workflows().Registry().Register.
func (eng *Engine) RegisterWorkflow(def *workflow.Definition) error {
	return eng.workflows.Registry().Register(def)
}

// Execute starts a workflow execution. Shorthand for Workflows().Execute.
func (eng *Engine) Execute(ctx context.Context, workflowID string, input conduct.Document, opts ...workflow.ExecOption) (*workflow.Execution, error) {
	return eng.workflows.Execute(ctx, workflowID, input, opts...)
}
