// Package evaluator decides whether jobs and copies are outside their
// retention window.
//
// Every function is pure: the result depends only on the rule, the job list
// and the evaluation time passed in. Day-based rules expire a job once it is
// strictly older than N days. Job-based rules keep the N most recent
// full-to-full cycles; if fewer than N full cycles exist nothing expires.
//
// Extended rules only ever add retention. Each keeps the first full job of
// every week, month, quarter, half year or year (or every full) for its own
// number of days after the base rule has let the job go.
package evaluator
