package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/tokenkeeper/internal/auth/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, status int, body map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestExchanger(srv *httptest.Server) *OAuth2Exchanger {
	return NewOAuth2Exchanger(Config{
		Name:         "test",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenURL:     srv.URL + "/token",
	}, srv.Client())
}

func TestOAuth2Exchanger_Success(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, map[string]any{
		"access_token":  "ya29.new",
		"token_type":    "Bearer",
		"expires_in":    3599,
		"refresh_token": "rt-2",
		"scope":         "email profile",
	})

	before := time.Now()
	grant, err := newTestExchanger(srv).Exchange(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "ya29.new", grant.AccessToken)
	assert.Equal(t, "rt-2", grant.RefreshToken)
	assert.Equal(t, []string{"email", "profile"}, grant.Scopes)
	assert.True(t, grant.Expiry.After(before.Add(59*time.Minute)))
}

func TestOAuth2Exchanger_NoRotation(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusOK, map[string]any{
		"access_token": "ya29.new",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})

	grant, err := newTestExchanger(srv).Exchange(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Empty(t, grant.RefreshToken, "unchanged refresh token is not reported as rotated")
}

func TestOAuth2Exchanger_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   error
	}{
		{
			name:   "invalid grant",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."},
			want:   token.ErrTerminalRefresh,
		},
		{
			name:   "invalid client",
			status: http.StatusUnauthorized,
			body:   map[string]any{"error": "invalid_client"},
			want:   token.ErrTerminalRefresh,
		},
		{
			name:   "invalid request",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "invalid_request", "error_description": "Missing required parameter"},
			want:   token.ErrTerminalRefresh,
		},
		{
			name:   "invalid scope",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "invalid_scope"},
			want:   token.ErrTerminalRefresh,
		},
		{
			name:   "bad request without error code",
			status: http.StatusBadRequest,
			body:   map[string]any{"message": "malformed"},
			want:   token.ErrTerminalRefresh,
		},
		{
			name:   "temporarily unavailable code wins over status",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "temporarily_unavailable"},
			want:   token.ErrTransientRefresh,
		},
		{
			name:   "server error",
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"message": "backend unavailable"},
			want:   token.ErrTransientRefresh,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"message": "slow down"},
			want:   token.ErrTransientRefresh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := tokenServer(t, tt.status, tt.body)
			_, err := newTestExchanger(srv).Exchange(context.Background(), "rt-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "test token endpoint")
		})
	}
}

func TestOAuth2Exchanger_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ex := NewOAuth2Exchanger(Config{ClientID: "c", TokenURL: url}, nil)
	_, err := ex.Exchange(context.Background(), "rt-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrTransientRefresh)
}

func TestOAuthConfig_DefaultsToGoogle(t *testing.T) {
	cfg := OAuthConfig(Config{ClientID: "id"})
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Endpoint.TokenURL)
	assert.Equal(t, DefaultScopes, cfg.Scopes)
}
