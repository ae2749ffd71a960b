// Package auth resolves inbound callers into actors. The core never sees
// credentials: it receives an already-resolved Actor as an explicit argument.
package auth

import "github.com/go-faster/errors"

// Kind distinguishes marketplace users from automated collaborators.
type Kind string

const (
	// KindUser is a signed-in marketplace user (buyer or seller).
	KindUser Kind = "user"
	// KindSystem is an automated collaborator such as a tracking feed or
	// payment webhook.
	KindSystem Kind = "system"
)

// ScopeSystem marks an API key as belonging to an automated collaborator.
const ScopeSystem = "system"

var (
	// ErrUnauthorized is returned when the caller cannot be identified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Actor is the resolved identity of the caller of a core operation.
type Actor struct {
	// UserID is the internal user id for users and a descriptive name for
	// system actors.
	UserID string
	Kind   Kind
}

// User returns an Actor for the marketplace user with the given id.
func User(id string) Actor {
	return Actor{UserID: id, Kind: KindUser}
}

// System returns an Actor for an automated collaborator.
func System(name string) Actor {
	return Actor{UserID: name, Kind: KindSystem}
}

// IsUser reports whether a is a marketplace user with a non-empty id.
func (a Actor) IsUser() bool {
	return a.Kind == KindUser && a.UserID != ""
}

// IsSystem reports whether a is an automated collaborator.
func (a Actor) IsSystem() bool {
	return a.Kind == KindSystem
}

// Is reports whether a is the marketplace user with the given id.
func (a Actor) Is(userID string) bool {
	return a.IsUser() && a.UserID == userID
}
