// Package lock implements the LockManager: enable_lock, disable_lock,
// change_retention and the delete operations.
//
// Each operation reads the current copy, validates the request, and writes
// through PolicyStore.CompareAndSwap. Callers may pin the version they
// decided against with WithExpectedVersion; a stale pin returns
// VersionConflict. Without a pin the manager re-reads and retries a bounded
// number of times before returning Busy.
//
// The Check* functions hold the delete and retention preconditions so the
// aging sweep applies exactly the same rules as administrative callers.
package lock
