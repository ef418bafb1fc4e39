// Package accounts defines the linked provider account record and the
// repository contract the token lifecycle code depends on.
package accounts

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no account matches the requested id.
var ErrNotFound = errors.New("account not found")

// Account is an OAuth identity linked by an owner, with its current token pair.
type Account struct {
	ID               string
	OwnerID          string
	Provider         string
	ProviderIdentity string // e.g. the provider-side email
	AccessToken      string
	RefreshToken     string
	Scopes           []string
	Expiry           *time.Time
	// NeedsReconnection is set when the refresh path is known to be dead.
	// Only a wholesale token replacement clears it.
	NeedsReconnection bool
	CreatedAt         time.Time
	LastUsedAt        time.Time
	UpdatedAt         time.Time
}

// HasRefreshToken reports whether the account can be silently refreshed.
func (a *Account) HasRefreshToken() bool {
	return a.RefreshToken != ""
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Scopes = append([]string(nil), a.Scopes...)
	if a.Expiry != nil {
		exp := *a.Expiry
		cp.Expiry = &exp
	}
	return &cp
}

// Update is a set of field changes applied by Repository.Update as one atomic write.
// Nil fields are left untouched.
type Update struct {
	AccessToken       *string
	RefreshToken      *string
	Expiry            *time.Time
	ClearExpiry       bool
	LastUsedAt        *time.Time
	NeedsReconnection *bool
	Scopes            []string
}

// Empty reports whether the update would change nothing.
func (u Update) Empty() bool {
	return u.AccessToken == nil && u.RefreshToken == nil && u.Expiry == nil &&
		!u.ClearExpiry && u.LastUsedAt == nil && u.NeedsReconnection == nil && u.Scopes == nil
}

// ReplaceTokens builds the update a fresh consent flow applies: a new token
// pair, a new expiry, and the reconnection marker cleared.
func ReplaceTokens(accessToken, refreshToken string, expiry time.Time, scopes []string) Update {
	reconnect := false
	u := Update{
		AccessToken:       &accessToken,
		RefreshToken:      &refreshToken,
		NeedsReconnection: &reconnect,
		Scopes:            scopes,
	}
	if expiry.IsZero() {
		u.ClearExpiry = true
	} else {
		u.Expiry = &expiry
	}
	return u
}

// Apply mutates a in place with the non-nil fields of u.
func (u Update) Apply(a *Account) {
	if u.AccessToken != nil {
		a.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		a.RefreshToken = *u.RefreshToken
	}
	if u.ClearExpiry {
		a.Expiry = nil
	}
	if u.Expiry != nil {
		exp := *u.Expiry
		a.Expiry = &exp
	}
	if u.LastUsedAt != nil {
		a.LastUsedAt = *u.LastUsedAt
	}
	if u.NeedsReconnection != nil {
		a.NeedsReconnection = *u.NeedsReconnection
	}
	if u.Scopes != nil {
		a.Scopes = append([]string(nil), u.Scopes...)
	}
}

// Repository loads and persists accounts.
type Repository interface {
	// ListByOwner returns the owner's accounts ordered by LastUsedAt descending.
	ListByOwner(ctx context.Context, ownerID string) ([]*Account, error)
	// GetByID returns ErrNotFound when the account does not exist.
	GetByID(ctx context.Context, id string) (*Account, error)
	// Update applies all fields of u in a single atomic write.
	Update(ctx context.Context, id string, u Update) error
}

// ExpiringLister is implemented by stores that can find accounts due for a
// proactive refresh across all owners.
type ExpiringLister interface {
	// ListExpiring returns accounts not marked for reconnection whose expiry is before the given time.
	ListExpiring(ctx context.Context, before time.Time) ([]*Account, error)
}
