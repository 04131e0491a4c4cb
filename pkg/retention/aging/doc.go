// Package aging implements the AgingScheduler.
//
// A sweep walks every plan and copy in the PolicyStore, asks the evaluator
// which jobs have aged out, and re-checks each candidate with the same
// precondition the LockManager applies to administrative deletes
// (lock.CheckDeleteJob, lock.CheckDeleteCopy). Candidates become deletion
// intents handed to a Deleter.
//
// Deletion is two-phase. An intent stays in flight until the Deleter reports
// an Outcome, and no second intent is issued for the same target while one
// is in flight. A successful outcome is recorded through the LockManager;
// a failure is logged and the target is picked up again on the next sweep.
//
// Sweeps check for cancellation once per copy, so shutdown waits at most
// for one copy's evaluation.
//
//	sweeper := aging.NewSweeper(store, jobs, locks, aging.NewLogDeleter(), aging.DefaultConfig())
//	sched := aging.NewScheduler(sweeper)
//	if err := sched.Start(ctx); err != nil {
//		return err
//	}
//	defer sched.Stop()
package aging
