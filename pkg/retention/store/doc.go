// Package store provides PolicyStore backends for copy records.
//
// SQLiteStore persists copies in a single table keyed by copy ID and is the
// production backend. MemoryStore keeps copies in a map and is used by tests
// and by the "memory" backend setting.
//
// Both backends implement the same contract: CompareAndSwap succeeds only
// when the caller's expected version matches the stored one, increments the
// version by one, and appends an accepted audit record before returning. If
// the audit append fails the change is not applied.
package store
