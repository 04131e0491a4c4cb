package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// KeyValidator validates API keys against a fixed set. Keys are indexed by
// their SHA-256 digest and compared in constant time.
type KeyValidator struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]Key
}

// NewKeyValidator creates a validator for keys.
func NewKeyValidator(keys []Key) *KeyValidator {
	v := &KeyValidator{keys: make(map[[sha256.Size]byte]Key, len(keys))}
	for _, k := range keys {
		v.keys[sha256.Sum256([]byte(k.Secret))] = k
	}
	return v
}

// Validate returns the principal for secret.
func (v *KeyValidator) Validate(secret string) (Principal, error) {
	if secret == "" {
		return Principal{}, ErrMissingKey
	}
	v.mu.RLock()
	k, ok := v.keys[sha256.Sum256([]byte(secret))]
	v.mu.RUnlock()

	if !ok || subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) != 1 {
		return Principal{}, ErrInvalidKey
	}
	if !k.Enabled {
		return Principal{}, ErrDisabledKey
	}
	return k.Principal, nil
}

// Replace swaps the key set, for example after a configuration reload.
func (v *KeyValidator) Replace(keys []Key) {
	next := make(map[[sha256.Size]byte]Key, len(keys))
	for _, k := range keys {
		next[sha256.Sum256([]byte(k.Secret))] = k
	}
	v.mu.Lock()
	v.keys = next
	v.mu.Unlock()
}
