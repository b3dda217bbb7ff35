// Package txn implements the transaction coordinator: it gives a group of
// plugin-local operations the appearance of a single atomic unit via a
// two-phase commit protocol across registered participants, with named
// savepoints for partial rollback.
//
// A transaction is begun with an isolation level (informational — the
// coordinator records it, participants enforce it) and a timeout.
// Operations are appended while the transaction is Active; each carries
// first-class execute and rollback functions plus the id of its owning
// plugin, which joins the participant set in first-appearance order. That
// order is what makes the compensating-abort unwind of a failed prepare
// round well-defined.
//
// Commit drives the canonical two-phase routine: prepare every participant
// in order, aborting the already-prepared ones if any vote fails, then
// commit every participant. A commit-phase failure cannot be undone — the
// transaction is reported Failed and manual reconciliation is required.
//
// Rollback unwinds operation effects in reverse log order, best-effort:
// individual rollback failures never stop the remaining ones.
package txn
