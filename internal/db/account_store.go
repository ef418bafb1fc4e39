package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/db/models"
	"gorm.io/gorm"
)

// AccountStore is the gorm-backed accounts.Repository.
type AccountStore struct {
	db *gorm.DB
}

var (
	_ accounts.Repository     = (*AccountStore)(nil)
	_ accounts.ExpiringLister = (*AccountStore)(nil)
)

// NewAccountStore wraps an initialized database handle.
func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// ListByOwner implements accounts.Repository.
func (s *AccountStore) ListByOwner(ctx context.Context, ownerID string) ([]*accounts.Account, error) {
	var rows []models.Account
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_used_at DESC").
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list accounts for owner %s: %w", ownerID, err)
	}
	return toDomainList(rows), nil
}

// GetByID implements accounts.Repository.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*accounts.Account, error) {
	var row models.Account
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, accounts.ErrNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return toDomain(&row), nil
}

// Update implements accounts.Repository. All fields land in a single UPDATE
// statement, so readers never observe a new token with a stale expiry.
func (s *AccountStore) Update(ctx context.Context, id string, u accounts.Update) error {
	if u.Empty() {
		return nil
	}
	fields := updateColumns(u)

	res := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update account %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return accounts.ErrNotFound
	}
	return nil
}

// ListExpiring implements accounts.ExpiringLister.
func (s *AccountStore) ListExpiring(ctx context.Context, before time.Time) ([]*accounts.Account, error) {
	var rows []models.Account
	err := s.db.WithContext(ctx).
		Where("needs_reconnect = ? AND expires_at IS NOT NULL AND expires_at < ?", false, before.UTC()).
		Order("expires_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list expiring accounts: %w", err)
	}
	return toDomainList(rows), nil
}

// Create inserts a new account, assigning an id when missing.
func (s *AccountStore) Create(ctx context.Context, acc *accounts.Account) (*accounts.Account, error) {
	if acc == nil || acc.AccessToken == "" {
		return nil, errors.New("account requires an access token")
	}
	row := toRow(acc)
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.LastUsedAt.IsZero() {
		row.LastUsedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return toDomain(row), nil
}

// Link stores the token pair produced by an external consent flow. An
// existing account for the same owner, provider and identity keeps its id and
// has its token pair replaced wholesale, which also clears the reconnection
// marker.
func (s *AccountStore) Link(ctx context.Context, acc *accounts.Account) (*accounts.Account, error) {
	var existing models.Account
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND provider = ? AND email = ?", acc.OwnerID, acc.Provider, acc.ProviderIdentity).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.Create(ctx, acc)
	}
	if err != nil {
		return nil, fmt.Errorf("find linked account: %w", err)
	}

	var expiry time.Time
	if acc.Expiry != nil {
		expiry = *acc.Expiry
	}
	if err := s.Update(ctx, existing.ID, accounts.ReplaceTokens(acc.AccessToken, acc.RefreshToken, expiry, acc.Scopes)); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, existing.ID)
}

func updateColumns(u accounts.Update) map[string]any {
	fields := make(map[string]any)
	if u.AccessToken != nil {
		fields["access_token"] = *u.AccessToken
	}
	if u.RefreshToken != nil {
		fields["refresh_token"] = *u.RefreshToken
	}
	if u.ClearExpiry {
		fields["expires_at"] = nil
	}
	if u.Expiry != nil {
		fields["expires_at"] = u.Expiry.UTC()
	}
	if u.LastUsedAt != nil {
		fields["last_used_at"] = u.LastUsedAt.UTC()
	}
	if u.NeedsReconnection != nil {
		fields["needs_reconnect"] = *u.NeedsReconnection
	}
	if u.Scopes != nil {
		fields["scopes"] = encodeScopes(u.Scopes)
	}
	return fields
}

func toRow(acc *accounts.Account) *models.Account {
	row := &models.Account{
		ID:             acc.ID,
		OwnerID:        acc.OwnerID,
		Provider:       acc.Provider,
		Email:          acc.ProviderIdentity,
		AccessToken:    acc.AccessToken,
		RefreshToken:   acc.RefreshToken,
		NeedsReconnect: acc.NeedsReconnection,
		Scopes:         encodeScopes(acc.Scopes),
		LastUsedAt:     acc.LastUsedAt.UTC(),
		CreatedAt:      acc.CreatedAt.UTC(),
	}
	if row.Provider == "" {
		row.Provider = "google"
	}
	if acc.Expiry != nil {
		exp := acc.Expiry.UTC()
		row.ExpiresAt = &exp
	}
	return row
}

func toDomain(row *models.Account) *accounts.Account {
	acc := &accounts.Account{
		ID:                row.ID,
		OwnerID:           row.OwnerID,
		Provider:          row.Provider,
		ProviderIdentity:  row.Email,
		AccessToken:       row.AccessToken,
		RefreshToken:      row.RefreshToken,
		Scopes:            decodeScopes(row.Scopes),
		NeedsReconnection: row.NeedsReconnect,
		CreatedAt:         row.CreatedAt,
		LastUsedAt:        row.LastUsedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.ExpiresAt != nil {
		exp := *row.ExpiresAt
		acc.Expiry = &exp
	}
	return acc
}

func toDomainList(rows []models.Account) []*accounts.Account {
	out := make([]*accounts.Account, 0, len(rows))
	for i := range rows {
		out = append(out, toDomain(&rows[i]))
	}
	return out
}

func encodeScopes(scopes []string) string {
	if len(scopes) == 0 {
		return "[]"
	}
	data, err := json.Marshal(scopes)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
		return nil
	}
	return scopes
}
