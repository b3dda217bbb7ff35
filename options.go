package conduct

import (
	"context"
	"log/slog"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// shutdownEmitter is an internal interface for extension lifecycle events.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conductor is the root object holding configuration, the logger, and
// the store shared by the workflow engine and transaction coordinator.
//
// Create one with New() and functional options, then wire the
// subsystems together with engine.Build. The Conductor references
// subsystem components via internal interfaces to avoid import cycles.
type Conductor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions shutdownEmitter
}

// New creates a new Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// SetExtensions sets the extension emitter (called by engine.Build).
func (c *Conductor) SetExtensions(e shutdownEmitter) { c.extensions = e }

// Close shuts down the conductor: extensions are notified, bounded by
// the configured ShutdownTimeout, then the store is closed.
func (c *Conductor) Close(ctx context.Context) error {
	if c.extensions != nil {
		if d := c.config.ShutdownTimeout; d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithLogger sets the structured logger for the conductor.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the backend for the conductor. The store must
// implement Storer at minimum; typically it will be a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(c *Conductor) error {
		c.config = cfg
		return nil
	}
}

// WithMaxConcurrentSteps bounds per-execution step parallelism.
func WithMaxConcurrentSteps(n int) Option {
	return func(c *Conductor) error {
		c.config.MaxConcurrentSteps = n
		return nil
	}
}
