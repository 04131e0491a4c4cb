// Package secrets resolves secret references in configuration values.
//
// A value of the form ${secret:name} is looked up in each provider in
// turn; any other value is used as written. This keeps API keys and
// webhook tokens out of the configuration file:
//
//	server:
//	  auth:
//	    keys:
//	      - name: ops
//	        key: ${secret:ops-api-key}
//
// With the default providers, ops-api-key is read from the
// RATCHET_SECRET_OPS_API_KEY environment variable, then from the file
// <secrets.dir>/ops-api-key.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a provider that does not hold the secret.
// The resolver then tries the next provider.
var ErrNotFound = errors.New("secret not found")

// Provider looks secrets up by name.
type Provider interface {
	// Name identifies the provider in errors and logs.
	Name() string

	// Lookup returns the secret value, or ErrNotFound.
	Lookup(ctx context.Context, name string) (string, error)
}
