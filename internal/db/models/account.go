package models

import "time"

// Account stores a linked OAuth identity and its current token pair.
type Account struct {
	ID             string     `gorm:"primaryKey"` // UUID
	OwnerID        string     `gorm:"uniqueIndex:idx_owner_provider_email;not null"`
	Provider       string     `gorm:"uniqueIndex:idx_owner_provider_email;default:'google'"` // e.g., "google"
	Email          string     `gorm:"uniqueIndex:idx_owner_provider_email"`                  // provider-side identity
	AccessToken    string     `gorm:"not null"`
	RefreshToken   string
	ExpiresAt      *time.Time `gorm:"index"` // NULL once marked for reconnection
	NeedsReconnect bool       `gorm:"default:false;index"`
	Scopes         string     // JSON array of granted scopes
	LastUsedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
