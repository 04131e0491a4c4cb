// Package server is the administrative HTTP API of Ratchet.
//
// It exposes copy management, the LockManager operations, audit queries and
// on-demand aging sweeps on a chi router, plus the health probes and the
// Prometheus endpoint.
//
// # Conventions
//
// The caller identity is taken from X-Actor and recorded in the audit log.
// A mutation can be pinned to a copy version with If-Match; a stale version
// answers 412 instead of being retried. Successful mutations answer
// {"copy_id": ..., "version": n} and an ETag with the new version.
//
// Rejections are rendered as
//
//	{"code": "RetentionDecreaseRejected", "message": "...", "details": {...}}
//
// with 409 for policy rejections, 412 for VersionConflict, 503 for Busy,
// 404 for NotFound and 400 for invalid input.
package server
