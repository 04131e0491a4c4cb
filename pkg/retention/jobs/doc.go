// Package jobs provides Job Source adapters: the SQLite job catalog, an
// in-memory catalog, and a singleflight wrapper that lets the admin API and
// the aging sweep share one in-flight read per copy.
package jobs
