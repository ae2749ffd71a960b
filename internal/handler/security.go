package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// ActorResolver authenticates a raw API key.
type ActorResolver interface {
	Resolve(ctx context.Context, key string) (auth.Actor, error)
}

type actorKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by Authenticate. Only the transport
// layer reads it; core operations receive the actor as an argument.
func ActorFrom(ctx context.Context) (auth.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(auth.Actor)
	return a, ok
}

// Authenticate resolves the API key from the api_key header (or a bearer
// token) and rejects the request with 401 when it does not identify an
// actor.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				key = strings.TrimSpace(v)
			}
		}

		actor, err := h.resolver.Resolve(r.Context(), key)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func mustActor(r *http.Request) auth.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}
