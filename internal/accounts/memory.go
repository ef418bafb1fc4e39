package accounts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	updates  int
}

var (
	_ Repository     = (*MemoryRepository)(nil)
	_ ExpiringLister = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]*Account)}
}

// Create stores a copy of acc, assigning an id and timestamps when missing.
func (r *MemoryRepository) Create(_ context.Context, acc *Account) (*Account, error) {
	if acc == nil || acc.AccessToken == "" {
		return nil, errors.New("account requires an access token")
	}
	cp := acc.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[cp.ID] = cp
	return cp.Clone(), nil
}

// ListByOwner implements Repository.
func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Account
	for _, acc := range r.accounts {
		if acc.OwnerID == ownerID {
			out = append(out, acc.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

// Update implements Repository. The whole update happens under one lock.
func (r *MemoryRepository) Update(_ context.Context, id string, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	u.Apply(acc)
	acc.UpdatedAt = time.Now()
	r.updates++
	return nil
}

// ListExpiring implements ExpiringLister.
func (r *MemoryRepository) ListExpiring(_ context.Context, before time.Time) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Account
	for _, acc := range r.accounts {
		if acc.NeedsReconnection || acc.Expiry == nil {
			continue
		}
		if acc.Expiry.Before(before) {
			out = append(out, acc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Expiry.Before(*out[j].Expiry)
	})
	return out, nil
}

// UpdateCount returns how many updates were applied. Tests use it to assert
// that read-only paths do not write.
func (r *MemoryRepository) UpdateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updates
}
