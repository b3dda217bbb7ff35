// Package workflow defines workflow definitions, executions, the step
// executor, and the engine that drives a dependency-resolved graph of steps
// against externally owned plugins.
//
// A Definition is a named graph of Steps. The engine resolves the
// dependency order once per execution, then walks it in the definition's
// Mode: Sequential, Conditional, and Pipeline modes drive steps one at a
// time on a single goroutine; Parallel mode runs dependency-independent
// waves concurrently, serializing result merges in the driving goroutine.
//
// Executions are tracked in a Store (the execution registry) and progress
// through Pending → Running → {Completed, Failed, Cancelled}.
package workflow
