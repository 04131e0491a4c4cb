// Package app builds a running Ratchet engine from configuration.
//
// The factory functions map each backend setting to its implementation
// (SQLite or memory for the store, audit log and job catalog; log or
// webhook for the deletion collaborator). Build wires them into the
// LockManager, the aging sweeper and scheduler, the metrics collector and
// the health checker, resolving secret references in API keys and the
// webhook token on the way. Run serves it all until the context ends:
//
//	a, err := app.Build(cfg)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx, app.RunOptions{ConfigPath: path, Logger: logger})
package app
