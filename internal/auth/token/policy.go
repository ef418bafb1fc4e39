package token

import (
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
)

// DefaultExpiryBuffer is how early a token is treated as due for refresh.
const DefaultExpiryBuffer = 5 * time.Minute

// State is an account's token state as seen by the lifecycle manager.
type State int

const (
	StateValid State = iota
	StateExpiringSoon
	StateExpired
	// StateUnknown means no expiry is stored for an account that was never
	// escalated. The token is refreshed rather than trusted.
	StateUnknown
	StateNeedsReconnection
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateExpired:
		return "expired"
	case StateUnknown:
		return "unknown"
	case StateNeedsReconnection:
		return "needs_reconnection"
	default:
		return "invalid"
	}
}

// NeedsRefresh reports whether a token in this state must be refreshed before use.
func (s State) NeedsRefresh() bool {
	return s == StateExpiringSoon || s == StateExpired || s == StateUnknown
}

// IsExpired is true iff an expiry is stored and now has reached it.
func IsExpired(acc *accounts.Account, now time.Time) bool {
	return acc.Expiry != nil && !now.Before(*acc.Expiry)
}

// IsExpiringSoon is true iff an expiry is stored and is at most buffer away.
func IsExpiringSoon(acc *accounts.Account, now time.Time, buffer time.Duration) bool {
	return acc.Expiry != nil && acc.Expiry.Sub(now) <= buffer
}

// ExpiryUnknown is true when the expiry is missing on an account that was not
// escalated, which points at a malformed record.
func ExpiryUnknown(acc *accounts.Account) bool {
	return acc.Expiry == nil && !acc.NeedsReconnection
}

// StateOf evaluates the expiry policy for acc.
func StateOf(acc *accounts.Account, now time.Time, buffer time.Duration) State {
	switch {
	case acc.NeedsReconnection:
		return StateNeedsReconnection
	case ExpiryUnknown(acc):
		return StateUnknown
	case IsExpired(acc, now):
		return StateExpired
	case IsExpiringSoon(acc, now, buffer):
		return StateExpiringSoon
	default:
		return StateValid
	}
}
