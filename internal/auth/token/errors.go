package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Refresh failure classes. A *RefreshError matches exactly one of them with errors.Is.
var (
	ErrTransientRefresh = errors.New("transient refresh failure")
	ErrTerminalRefresh  = errors.New("refresh token rejected by provider")
	ErrIntegrity        = errors.New("account record failed integrity check")
)

// Reason classifies a failed refresh.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonTransient
	ReasonTerminal
	ReasonIntegrity
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "success"
	case ReasonTransient:
		return "transient"
	case ReasonTerminal:
		return "terminal"
	case ReasonIntegrity:
		return "integrity"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Escalates reports whether the failure requires the user to reconnect.
func (r Reason) Escalates() bool {
	return r == ReasonTerminal || r == ReasonIntegrity
}

func (r Reason) sentinel() error {
	switch r {
	case ReasonTerminal:
		return ErrTerminalRefresh
	case ReasonIntegrity:
		return ErrIntegrity
	default:
		return ErrTransientRefresh
	}
}

// RefreshError is a classified refresh failure.
type RefreshError struct {
	Reason Reason
	Err    error
}

// NewRefreshError wraps err with a failure class.
func NewRefreshError(reason Reason, err error) *RefreshError {
	return &RefreshError{Reason: reason, Err: err}
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return e.Reason.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason.sentinel(), e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason.sentinel()}
	}
	return []error{e.Reason.sentinel(), e.Err}
}

// Classify maps an exchange error to a failure class. Exchangers that know
// their wire format return a *RefreshError directly; anything else is matched
// against well-known OAuth error markers and otherwise treated as transient.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var rerr *RefreshError
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonTransient
	}
	if isPermanentRefreshError(err) {
		return ReasonTerminal
	}
	return ReasonTransient
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Outcome is the shared result of one logical refresh. Every caller that
// joined the same refresh receives an equal Outcome.
type Outcome struct {
	AccountID   string
	AccessToken string
	Expiry      time.Time
	Reason      Reason
	Err         error

	// Reused is set when the stored token was already fresh and no provider
	// call was made.
	Reused bool
}

// OK reports whether the refresh produced a new token.
func (o Outcome) OK() bool {
	return o.Reason == ReasonNone && o.AccessToken != ""
}
