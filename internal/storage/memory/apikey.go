package memory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
)

// APIKeyRepository implements auth.Repository.
type APIKeyRepository struct {
	s *Store
}

var _ auth.Repository = (*APIKeyRepository)(nil)

// Put stores info under its KeyHash.
func (r *APIKeyRepository) Put(ctx context.Context, info auth.APIKeyInfo) {
	defer r.s.lock(ctx)()
	r.s.st.apiKeys[info.KeyHash] = info
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	defer r.s.lock(ctx)()

	info, ok := r.s.st.apiKeys[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return &info, nil
}
