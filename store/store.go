// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, txn, event) defines its own store interface; the
// composite Store composes them all. The memory backend is the reference
// implementation — transaction operations carry rollback closures that
// cannot leave the process, so snapshots are what cross the durability
// seam.
package store

import (
	"context"

	"github.com/conducthq/conduct/event"
	"github.com/conducthq/conduct/txn"
	"github.com/conducthq/conduct/workflow"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores plus lifecycle operations.
type Store interface {
	workflow.Store
	txn.Store
	event.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
