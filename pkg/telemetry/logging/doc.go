// Package logging configures structured logging on log/slog.
//
// New builds a JSON or text logger whose level lives in a slog.LevelVar, so a
// configuration reload can change verbosity without rebuilding loggers. The
// handler copies request_id, actor, sweep_id, plan_id and copy_id from the
// context into every record logged with one of the *Context methods:
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json"})
//	slog.SetDefault(logger.Slog())
//
//	ctx = logging.WithActor(ctx, "alice")
//	slog.InfoContext(ctx, "lock enabled", "copy_id", "c1")
//
// Packages derive component loggers from the default logger:
//
//	logger := slog.Default().With("component", "retention.lock")
package logging
