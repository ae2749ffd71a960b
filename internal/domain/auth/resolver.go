package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// KeyResolver is the identity collaborator: it turns a raw API key into the
// Actor it belongs to.
type KeyResolver struct {
	keys   Repository
	pepper []byte
}

// NewKeyResolver creates a KeyResolver with the given API key repository and
// HMAC pepper.
func NewKeyResolver(keys Repository, pepper []byte) *KeyResolver {
	return &KeyResolver{keys: keys, pepper: pepper}
}

// HashKey returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func HashKey(key string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Resolve authenticates key. Every failure collapses into ErrUnauthorized so
// callers cannot distinguish unknown keys from malformed rows.
func (r *KeyResolver) Resolve(ctx context.Context, key string) (Actor, error) {
	if key == "" {
		return Actor{}, ErrUnauthorized
	}

	mac := hmac.New(sha256.New, r.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := r.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return Actor{}, ErrUnauthorized
	}

	// The stored hash could differ from what we computed if the repository
	// returns a stale or wrong row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return Actor{}, ErrUnauthorized
	}

	actor := info.Actor()
	if !actor.IsSystem() && !actor.IsUser() {
		return Actor{}, ErrUnauthorized
	}
	return actor, nil
}
