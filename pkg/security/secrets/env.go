package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. The secret
// "ops-api-key" with prefix "RATCHET_SECRET_" is read from
// RATCHET_SECRET_OPS_API_KEY.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Lookup reads the variable for name. An empty variable counts as unset.
func (p *EnvProvider) Lookup(ctx context.Context, name string) (string, error) {
	if v := os.Getenv(p.variable(name)); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

func (p *EnvProvider) variable(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
