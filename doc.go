// Package conduct provides a composable workflow orchestration and
// transaction coordination engine for Go. It runs directed graphs of
// dependent steps against independently-owned plugins, and gives groups
// of plugin-local operations all-or-nothing semantics via a two-phase
// commit protocol with savepoints.
//
// Conduct is designed as a library, not a service. Import it, register
// plugin handles and workflow definitions, and execute.
//
// # Quick Start
//
//	c, err := conduct.New(
//	    conduct.WithStore(memory.New()),
//	    conduct.WithLogger(logger),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithResolver(plugins),
//	)
//
// # Architecture
//
// Conduct follows a composable store pattern where each subsystem
// (workflow, txn, event) defines its own store interface. A single
// backend implements all of them; the in-memory backend is the
// reference implementation.
//
// Workflow step order is derived from declared dependencies, never from
// declaration order. Transactions coordinate registered participants
// through prepare/commit/abort, with compensating rollback driven in
// reverse operation order.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conduct
