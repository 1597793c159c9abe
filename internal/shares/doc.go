// Package shares persists user submissions and their enhancement progress in
// SQLite. The store is the single durable source of truth for share lifecycle
// status and per-phase enhancement state; every workflow transition goes
// through compare-and-update methods here so concurrent workers cannot race a
// share past its documented state machine.
package shares
