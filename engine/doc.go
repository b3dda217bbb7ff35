// Package engine wires all Conduct subsystems together. It creates the
// extension registry, plugin registries, middleware chain, workflow
// engine, and transaction coordinator, and connects the failure path of
// transactional executions to coordinator rollback.
//
// This package exists to break the import cycle: the root conduct
// package defines Entity and Document (imported by workflow, txn, etc.)
// and so cannot import those packages back. The engine package sits
// above all subsystem packages and below the application layer.
//
// Typical usage:
//
//	c, _ := conduct.New(conduct.WithStore(memory.New()))
//	eng, _ := engine.Build(c)
//	eng.Plugins().Register("billing", billingPlugin)
//	eng.RegisterWorkflow(orderWorkflow)
//	exec, _ := eng.Execute(ctx, "order-flow", input)
package engine
