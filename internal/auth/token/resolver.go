package token

import (
	"context"
	"fmt"

	"github.com/pysugar/tokenkeeper/internal/accounts"
)

// Resolver picks the active account among the accounts an owner has linked.
type Resolver struct {
	repo accounts.Repository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo accounts.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the owner's most recently used account, breaking ties by
// the most recently created one. It returns nil, nil when the owner has no
// linked accounts.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (*accounts.Account, error) {
	list, err := r.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve account for owner %s: %w", ownerID, err)
	}
	if len(list) == 0 {
		return nil, nil
	}

	active := list[0]
	for _, acc := range list[1:] {
		if preferred(acc, active) {
			active = acc
		}
	}
	return active, nil
}

func preferred(a, b *accounts.Account) bool {
	if !a.LastUsedAt.Equal(b.LastUsedAt) {
		return a.LastUsedAt.After(b.LastUsedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}
