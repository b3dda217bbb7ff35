package workflow

import (
	"time"

	"github.com/conducthq/conduct"
)

// Mode selects how the engine walks a definition's resolved step order.
type Mode string

const (
	// ModeSequential runs steps one at a time in resolved order.
	ModeSequential Mode = "sequential"
	// ModeParallel runs dependency-independent steps concurrently in waves.
	ModeParallel Mode = "parallel"
	// ModeConditional runs like Sequential but is conventionally used for
	// definitions whose steps carry execution conditions.
	ModeConditional Mode = "conditional"
	// ModePipeline runs steps one at a time, feeding each step's output
	// document to the next step as its parameter base.
	ModePipeline Mode = "pipeline"
)

// Predicate evaluates a condition over the execution's shared data.
type Predicate func(data conduct.Document) bool

// Definition is a registered workflow: a named graph of steps with
// dependency edges. Definitions are immutable once registered; replacing
// one requires unregistering and re-registering.
type Definition struct {
	// ID uniquely identifies the workflow. Caller-chosen.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Mode selects the execution strategy. Empty means ModeSequential.
	Mode Mode `json:"mode,omitempty"`

	// Timeout bounds the whole execution. Zero means the configured
	// default workflow timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Steps maps step id to definition. Insertion order is irrelevant;
	// execution order is derived from DependsOn edges.
	Steps map[string]*Step `json:"steps"`

	// RollbackSteps maps a step id to the step that undoes it. Consulted
	// by Engine.Rollback for steps that reached Completed.
	RollbackSteps map[string]*Step `json:"rollback_steps,omitempty"`

	// Condition, when set, gates the whole execution. Evaluated against
	// the initial input before any step runs.
	Condition Predicate `json:"-"`
}

// Dependencies returns the step-id → dependency-ids map consumed by the
// graph resolver.
func (d *Definition) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(d.Steps))
	for id, step := range d.Steps {
		deps[id] = step.DependsOn
	}
	return deps
}

// Step is one unit of delegated work targeting a single external plugin.
type Step struct {
	// ID is unique within the owning workflow.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// PluginID names the target component. Ignored when Service is set.
	PluginID string `json:"plugin_id,omitempty"`
	// Operation is the operation name invoked on the resolved handle.
	Operation string `json:"operation"`

	// Service optionally names a logical service contract instead of a raw
	// plugin id; the executor resolves it through the contract registry.
	Service    string `json:"service,omitempty"`
	MinVersion int    `json:"min_version,omitempty"`

	// Params are merged over the shared data at invocation time.
	// Step params win on key collision.
	Params conduct.Document `json:"params,omitempty"`

	// DependsOn lists step ids that must reach Completed first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Condition, when set and false, records the step as Skipped.
	Condition Predicate `json:"-"`

	// Timeout bounds one invocation attempt. Zero means the configured
	// default step timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries is the number of retries after the initial failure.
	// Zero means the configured default; negative means no retries.
	MaxRetries int `json:"max_retries,omitempty"`

	// RetryDelay, when positive, forces a constant delay between retries
	// instead of the engine's backoff strategy.
	RetryDelay time.Duration `json:"retry_delay,omitempty"`

	// Critical steps abort the whole execution when they fail.
	Critical bool `json:"critical,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}
