// Package audit implements the append-only audit log of retention and lock
// decisions.
//
// Two backends are provided: SQLiteLog for durable storage and MemoryLog for
// tests. Both assign a UUID and a timestamp to records that lack them and
// append batches atomically. The SQLite schema installs triggers that abort
// any UPDATE or DELETE on the records table.
//
// Records can be exported for compliance reporting:
//
//	recs, _ := log.Query(ctx, retention.AuditQuery{CopyID: "copy-1"})
//	exp, _ := audit.NewExporter("csv")
//	exp.Export(ctx, recs, os.Stdout)
package audit
