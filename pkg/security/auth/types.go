package auth

import "errors"

// Principal is an authenticated caller.
type Principal struct {
	// Name is recorded as the actor of audited operations.
	Name string

	// ReadOnly principals may not call mutating methods.
	ReadOnly bool
}

// Key is an API key and the principal it authenticates.
type Key struct {
	Principal
	Secret  string
	Enabled bool
}

// Authentication errors.
var (
	ErrMissingKey  = errors.New("no API key in request")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrDisabledKey = errors.New("API key disabled")
)

// Validator resolves an API key to its principal.
type Validator interface {
	Validate(secret string) (Principal, error)
}
