package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/identity"
	"github.com/pysugar/tokenkeeper/internal/logging"
)

// retryAfterSeconds is advertised when a refresh failed transiently.
const retryAfterSeconds = "30"

// AccountView is the JSON shape of an account. Tokens are masked.
type AccountView struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	Email             string     `json:"email"`
	AccessToken       string     `json:"access_token"`
	Scopes            []string   `json:"scopes"`
	ExpiresAt         *time.Time `json:"expires_at"`
	State             string     `json:"state"`
	NeedsReconnection bool       `json:"needs_reconnection"`
	HasRefreshToken   bool       `json:"has_refresh_token"`
	LastUsedAt        time.Time  `json:"last_used_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newAccountView(acc *accounts.Account, now time.Time, buffer time.Duration) AccountView {
	return AccountView{
		ID:                acc.ID,
		Provider:          acc.Provider,
		Email:             acc.ProviderIdentity,
		AccessToken:       logging.MaskToken(acc.AccessToken),
		Scopes:            acc.Scopes,
		ExpiresAt:         acc.Expiry,
		State:             token.StateOf(acc, now, buffer).String(),
		NeedsReconnection: acc.NeedsReconnection,
		HasRefreshToken:   acc.HasRefreshToken(),
		LastUsedAt:        acc.LastUsedAt,
		CreatedAt:         acc.CreatedAt,
	}
}

// TokenHandler handles GET /api/token: a valid access token for the caller.
func TokenHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := mgr.AccessToken(r.Context())
		if err != nil {
			log.Printf("%s❌ Token lookup failed: %v", logging.Prefix(r.Context()), err)
			writeError(w, http.StatusInternalServerError, "Token lookup failed", "server_error")
			return
		}

		switch res.Status {
		case token.StatusOK:
			writeJSON(w, http.StatusOK, map[string]any{
				"status":       res.Status.String(),
				"account_id":   res.AccountID,
				"access_token": res.AccessToken,
				"expires_at":   res.Expiry,
			})
		case token.StatusNoAccount:
			writeError(w, http.StatusNotFound, "No linked account", res.Status.String())
		case token.StatusNeedsReconnection:
			writeError(w, http.StatusConflict, "Account must be reconnected", res.Status.String())
		default:
			w.Header().Set("Retry-After", retryAfterSeconds)
			writeError(w, http.StatusServiceUnavailable, "Token refresh failed, retry later", res.Status.String())
		}
	}
}

// SessionHandler handles GET /api/session without refreshing anything.
func SessionHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		session, err := mgr.ValidateSession(r.Context(), owner)
		if err != nil {
			log.Printf("%s❌ Session check failed for %s: %v", logging.Prefix(r.Context()), owner, err)
			writeError(w, http.StatusInternalServerError, "Session check failed", "server_error")
			return
		}

		body := map[string]any{
			"is_valid":      session.IsValid,
			"needs_refresh": session.NeedsRefresh,
		}
		if session.Account != nil {
			body["account"] = newAccountView(session.Account, time.Now(), mgr.ExpiryBuffer())
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// AccountsHandler handles GET /api/accounts for the caller.
func AccountsHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}

		list, err := mgr.Accounts(r.Context(), owner)
		if err != nil {
			log.Printf("%s❌ Failed to list accounts for %s: %v", logging.Prefix(r.Context()), owner, err)
			writeError(w, http.StatusInternalServerError, "Failed to list accounts", "server_error")
			return
		}

		now := time.Now()
		views := make([]AccountView, 0, len(list))
		for _, acc := range list {
			views = append(views, newAccountView(acc, now, mgr.ExpiryBuffer()))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// RefreshAccountHandler handles POST /api/accounts/{id}/refresh for one of
// the caller's accounts.
func RefreshAccountHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := ownedAccount(w, r, mgr)
		if !ok {
			return
		}

		out, err := mgr.RefreshAccountToken(r.Context(), accountID)
		if errors.Is(err, accounts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", "not_found")
			return
		}
		if err != nil {
			log.Printf("%s❌ Failed to refresh account %s: %v", logging.Prefix(r.Context()), accountID, err)
			writeError(w, http.StatusInternalServerError, "Refresh failed", "server_error")
			return
		}

		switch {
		case out.OK():
			writeJSON(w, http.StatusOK, map[string]any{
				"status":     "ok",
				"expires_at": out.Expiry,
			})
		case out.Reason.Escalates():
			writeError(w, http.StatusConflict, out.Err.Error(), token.StatusNeedsReconnection.String())
		default:
			w.Header().Set("Retry-After", retryAfterSeconds)
			writeError(w, http.StatusServiceUnavailable, out.Err.Error(), token.StatusRetryLater.String())
		}
	}
}

// ReconnectHandler handles POST /api/accounts/{id}/reconnect for one of the
// caller's accounts.
func ReconnectHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := ownedAccount(w, r, mgr)
		if !ok {
			return
		}

		err := mgr.MarkForReconnection(r.Context(), accountID)
		if errors.Is(err, accounts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", "not_found")
			return
		}
		if err != nil {
			log.Printf("%s❌ Failed to mark %s for reconnection: %v", logging.Prefix(r.Context()), accountID, err)
			writeError(w, http.StatusInternalServerError, "Failed to mark account", "server_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// RefreshHandler handles POST /api/refresh: a sweep over expiring accounts.
func RefreshHandler(mgr *token.Manager, window time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := mgr.RefreshExpiring(r.Context(), window)
		if err != nil {
			log.Printf("%s❌ Refresh sweep failed: %v", logging.Prefix(r.Context()), err)
			writeError(w, http.StatusInternalServerError, "Refresh sweep failed", "server_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"checked":   report.Checked,
			"refreshed": report.Refreshed,
			"transient": report.Transient,
			"escalated": report.Escalated,
		})
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := identity.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, identity.OwnerHeader+" header required", "invalid_request")
	}
	return owner, ok
}

// ownedAccount resolves {id} and reports whether it belongs to the caller.
// Accounts of other owners answer 404 so their ids cannot be discovered.
func ownedAccount(w http.ResponseWriter, r *http.Request, mgr *token.Manager) (string, bool) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return "", false
	}
	accountID := chi.URLParam(r, "id")

	list, err := mgr.Accounts(r.Context(), owner)
	if err != nil {
		log.Printf("%s❌ Failed to list accounts for %s: %v", logging.Prefix(r.Context()), owner, err)
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", "server_error")
		return "", false
	}
	for _, acc := range list {
		if acc.ID == accountID {
			return accountID, true
		}
	}
	writeError(w, http.StatusNotFound, "Account not found", "not_found")
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": message,
			"type":    typ,
		},
	})
}
