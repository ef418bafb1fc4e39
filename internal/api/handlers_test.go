package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/pysugar/tokenkeeper/internal/identity"
	"github.com/pysugar/tokenkeeper/internal/metrics"
	"github.com/pysugar/tokenkeeper/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExchanger struct {
	calls atomic.Int32
	err   error
}

func (s *stubExchanger) Exchange(context.Context, string) (*token.Grant, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &token.Grant{AccessToken: "ya29.refreshed-access-token", Expiry: time.Now().Add(time.Hour)}, nil
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, notify.Event) error { return nil }

type fixture struct {
	repo    *accounts.MemoryRepository
	ex      *stubExchanger
	handler http.Handler
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	repo := accounts.NewMemoryRepository()
	ex := &stubExchanger{}
	mgr := token.NewManager(repo, ex, token.Options{
		Notifier: discardNotifier{},
		Metrics:  metrics.New(reg),
	})
	return &fixture{
		repo:    repo,
		ex:      ex,
		handler: NewRouter(mgr, Options{AdminPassword: password, Gatherer: reg}),
	}
}

func (f *fixture) seed(t *testing.T, id, owner string, expiry time.Duration) {
	t.Helper()
	exp := time.Now().Add(expiry)
	_, err := f.repo.Create(context.Background(), &accounts.Account{
		ID:               id,
		OwnerID:          owner,
		Provider:         "google",
		ProviderIdentity: id + "@example.com",
		AccessToken:      "ya29.current-access-token-" + id,
		RefreshToken:     "rt-" + id,
		Expiry:           &exp,
		LastUsedAt:       time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
}

func (f *fixture) do(method, path, owner string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if owner != "" {
		req.Header.Set(identity.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, "expected error body, got %s", rec.Body.String())
	return e["type"].(string)
}

func TestTokenHandler_FastPath(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", time.Hour)

	rec := f.do(http.MethodGet, "/api/token", "owner-1")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ya29.current-access-token-a1", body["access_token"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, int32(0), f.ex.calls.Load())
}

func TestTokenHandler_Statuses(t *testing.T) {
	t.Run("no owner", func(t *testing.T) {
		f := newFixture(t, "")
		rec := f.do(http.MethodGet, "/api/token", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "no_account", errorType(t, rec))
	})

	t.Run("retry later", func(t *testing.T) {
		f := newFixture(t, "")
		f.ex.err = errors.New("503 backend unavailable")
		f.seed(t, "a1", "owner-1", -time.Minute)

		rec := f.do(http.MethodGet, "/api/token", "owner-1")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))
		assert.Equal(t, "retry_later", errorType(t, rec))
	})

	t.Run("needs reconnection", func(t *testing.T) {
		f := newFixture(t, "")
		f.ex.err = errors.New("oauth2: \"invalid_grant\"")
		f.seed(t, "a1", "owner-1", -time.Minute)

		rec := f.do(http.MethodGet, "/api/token", "owner-1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "needs_reconnection", errorType(t, rec))

		// Escalated: later requests fail fast without a provider call.
		rec = f.do(http.MethodGet, "/api/token", "owner-1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, int32(1), f.ex.calls.Load())
	})
}

func TestSessionHandler(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", 3*time.Minute)

	rec := f.do(http.MethodGet, "/api/session", "owner-1")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["is_valid"])
	assert.Equal(t, true, body["needs_refresh"])
	account := body["account"].(map[string]any)
	assert.Equal(t, "expiring_soon", account["state"])
	assert.Equal(t, int32(0), f.ex.calls.Load(), "session checks never refresh")
}

func TestSessionHandler_RequiresOwner(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorType(t, rec))
}

func TestAccountsHandler_MasksTokens(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", time.Hour)
	f.seed(t, "a2", "owner-1", time.Hour)
	f.seed(t, "b1", "owner-2", time.Hour)

	rec := f.do(http.MethodGet, "/api/accounts", "owner-1")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.NotContains(t, rec.Body.String(), "ya29.current-access-token")
	assert.NotContains(t, rec.Body.String(), "rt-a1")
}

func TestRefreshAccountHandler(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", time.Hour)

	rec := f.do(http.MethodPost, "/api/accounts/a1/refresh", "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), f.ex.calls.Load())

	acc, err := f.repo.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.refreshed-access-token", acc.AccessToken)

	rec = f.do(http.MethodPost, "/api/accounts/missing/refresh", "owner-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconnectHandler(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", time.Hour)

	rec := f.do(http.MethodPost, "/api/accounts/a1/reconnect", "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	acc, err := f.repo.GetByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, acc.NeedsReconnection)
	assert.Nil(t, acc.Expiry)

	rec = f.do(http.MethodPost, "/api/accounts/missing/reconnect", "owner-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountRoutes_ScopedToOwner(t *testing.T) {
	for _, action := range []string{"refresh", "reconnect"} {
		t.Run(action, func(t *testing.T) {
			f := newFixture(t, "")
			f.seed(t, "a1", "owner-1", time.Hour)
			path := "/api/accounts/a1/" + action

			rec := f.do(http.MethodPost, path, "owner-2")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "not_found", errorType(t, rec))

			rec = f.do(http.MethodPost, path, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", errorType(t, rec))

			acc, err := f.repo.GetByID(context.Background(), "a1")
			require.NoError(t, err)
			assert.Equal(t, "ya29.current-access-token-a1", acc.AccessToken)
			assert.False(t, acc.NeedsReconnection)
			assert.Equal(t, int32(0), f.ex.calls.Load())
		})
	}
}

func TestRefreshHandler_Sweep(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "due", "owner-1", 10*time.Minute)
	f.seed(t, "fresh", "owner-1", 2*time.Hour)

	rec := f.do(http.MethodPost, "/api/refresh", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["checked"])
	assert.Equal(t, float64(1), body["refreshed"])
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, "s3cret")
	f.seed(t, "a1", "owner-1", time.Hour)

	rec := f.do(http.MethodGet, "/api/accounts", "owner-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set(identity.OwnerHeader, "owner-1")
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and metrics stay public.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.seed(t, "a1", "owner-1", time.Hour)
	f.do(http.MethodGet, "/api/token", "owner-1")

	rec := f.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `tokenkeeper_token_requests_total{result="ok"} 1`))
}
