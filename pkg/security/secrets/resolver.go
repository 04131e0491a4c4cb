package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	refPrefix = "${secret:"
	refSuffix = "}"
)

// IsRef reports whether value is a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix) && strings.HasSuffix(value, refSuffix) &&
		len(value) > len(refPrefix)+len(refSuffix)
}

// Resolver resolves secret references against providers in order.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver. Providers are tried in the given order.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers}
}

// Resolve returns value unchanged unless it is a reference, in which case
// the first provider holding the secret supplies it. A provider error
// other than ErrNotFound stops the search.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	name := value[len(refPrefix) : len(value)-len(refSuffix)]

	for _, p := range r.providers {
		v, err := p.Lookup(ctx, name)
		switch {
		case err == nil:
			return v, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}
	}
	return "", fmt.Errorf("secret %q: %w", name, ErrNotFound)
}
