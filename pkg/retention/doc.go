// Package retention defines the domain model of the retention and
// compliance-lock engine: copies, retention rules, lock state, jobs, audit
// records and the typed rejections returned to callers.
//
// # Components
//
// The engine is split into small packages that share these types:
//
//   - store: the PolicyStore, sole owner of copy records (SQLite, memory)
//   - lock: the LockManager, which validates and applies admin operations
//   - evaluator: pure retention math (is a job expired, is a copy deletable)
//   - aging: the periodic sweep that issues physical deletion intents
//   - audit: the append-only AuditLog (SQLite, memory) and exporters
//   - jobs: Job Source adapters for the backup catalog
//
// # The ratchet
//
// A copy starts unlocked with a day-based rule. Any retention change is
// accepted while unlocked. Enabling the compliance lock snapshots the current
// rule as the floor; from then on the rule may only keep its kind and grow.
// The lock can never be removed.
//
//	Unlocked --enable_lock--> Locked
//	Locked   --change_retention(same kind, value >= current)--> Locked
//	Locked   --disable_lock--> rejected (LockIsImmutable)
//
// Deleting a copy, a job or a whole plan requires every affected job to be
// outside its retention window, whether or not the copy is locked.
//
// # Rejections
//
// Refused operations return a *Rejection. Callers match them with errors.Is:
//
//	_, err := mgr.ChangeRetention(ctx, "copy-1", retention.Days(10))
//	if errors.Is(err, retention.ErrRetentionDecreaseRejected) {
//	    // floor is in err.(*retention.Rejection).Details.Floor
//	}
//
// VersionConflict and Busy are transient; everything else is final for the
// state the operation was decided against.
package retention
