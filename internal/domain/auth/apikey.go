package auth

import (
	"context"
	"slices"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Scopes  []string
}

// Actor maps the key to the actor it authenticates. Keys carrying the system
// scope authenticate an automated collaborator named after the key.
func (k *APIKeyInfo) Actor() Actor {
	if slices.Contains(k.Scopes, ScopeSystem) {
		return System(k.Name)
	}
	return User(k.UserID)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
