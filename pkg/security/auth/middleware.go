package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Source is a place an API key may be sent.
type Source struct {
	// Header is the request header to read.
	Header string

	// Scheme, if set, must prefix the header value ("Bearer").
	Scheme string
}

// DefaultSources accepts a bearer token or an X-API-Key header.
var DefaultSources = []Source{
	{Header: "Authorization", Scheme: "Bearer"},
	{Header: "X-API-Key"},
}

// Middleware authenticates requests and stores the Principal in the
// request context.
type Middleware struct {
	validator Validator
	sources   []Source
	logger    *slog.Logger
}

// NewMiddleware creates an authentication middleware. With no sources,
// DefaultSources is used.
func NewMiddleware(v Validator, sources []Source) *Middleware {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &Middleware{
		validator: v,
		sources:   sources,
		logger:    slog.Default().With("component", "auth"),
	}
}

// Handle rejects unauthenticated requests with 401 and mutating requests
// from read-only principals with 403.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.validator.Validate(m.extract(r))
		if err != nil {
			m.logger.Warn("authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="ratchet"`)
			deny(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}

		if p.ReadOnly && !safeMethod(r.Method) {
			m.logger.Warn("read-only key used for a mutation",
				"principal", p.Name,
				"method", r.Method,
				"path", r.URL.Path,
			)
			deny(w, http.StatusForbidden, "Forbidden", "key "+p.Name+" is read-only")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (m *Middleware) extract(r *http.Request) string {
	for _, src := range m.sources {
		value := r.Header.Get(src.Header)
		if value == "" {
			continue
		}
		if src.Scheme == "" {
			return value
		}
		if scheme, token, ok := strings.Cut(value, " "); ok && strings.EqualFold(scheme, src.Scheme) {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{code, message})
}

type contextKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
