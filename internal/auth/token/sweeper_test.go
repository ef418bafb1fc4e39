package token

import (
	"context"
	"testing"
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	mgr := NewManager(accounts.NewMemoryRepository(), newFakeExchanger(), Options{})
	_, err := NewSweeper(mgr, "every tuesday-ish", time.Minute)
	assert.Error(t, err)
}

func TestSweeper_RunOnceUsesWindow(t *testing.T) {
	repo := accounts.NewMemoryRepository()
	seedAccount(t, repo, &accounts.Account{ID: "due", RefreshToken: "rt", Expiry: expiresIn(15 * time.Minute)})
	seedAccount(t, repo, &accounts.Account{ID: "fresh", RefreshToken: "rt", Expiry: expiresIn(time.Hour)})
	ex := newFakeExchanger()
	mgr := NewManager(repo, ex, Options{})

	s, err := NewSweeper(mgr, "", 0)
	require.NoError(t, err)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, ex.Calls())
}

func TestSweeper_StartStop(t *testing.T) {
	mgr := NewManager(accounts.NewMemoryRepository(), newFakeExchanger(), Options{})
	s, err := NewSweeper(mgr, "@every 1h", time.Minute)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
