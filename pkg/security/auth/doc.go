// Package auth authenticates admin API callers with API keys.
//
// Each key belongs to a named Principal. The name is what the audit log
// records as the actor, so a caller cannot choose its own identity once
// authentication is on. Read-only principals are limited to GET and HEAD,
// which covers inspection, audit queries and aging previews.
//
// Keys are accepted from, in order:
//
//   - Authorization: Bearer <key>
//   - X-API-Key: <key>
//
// Usage:
//
//	validator := auth.NewKeyValidator(keys)
//	mw := auth.NewMiddleware(validator, auth.DefaultSources)
//	router.Use(mw.Handle)
//
//	// in a handler
//	p, ok := auth.PrincipalFromContext(r.Context())
package auth
