package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/identity"
	"github.com/pysugar/tokenkeeper/internal/logging"
	"github.com/pysugar/tokenkeeper/internal/metrics"
	"github.com/pysugar/tokenkeeper/internal/notify"
	"golang.org/x/sync/errgroup"
)

// Status tells a caller what to do when no token is available.
type Status int

const (
	StatusOK Status = iota
	StatusNoAccount
	StatusNeedsReconnection
	StatusRetryLater
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoAccount:
		return "no_account"
	case StatusNeedsReconnection:
		return "needs_reconnection"
	case StatusRetryLater:
		return "retry_later"
	default:
		return "unknown"
	}
}

// TokenResult is the answer to an access token request.
type TokenResult struct {
	AccountID   string
	AccessToken string
	Expiry      time.Time
	Status      Status
}

// Available reports whether AccessToken can be used.
func (r TokenResult) Available() bool {
	return r.Status == StatusOK && r.AccessToken != ""
}

// Session is the read-only view returned by ValidateSession.
type Session struct {
	IsValid      bool
	NeedsRefresh bool
	Account      *accounts.Account
}

// Options configures a Manager. Zero values use defaults.
type Options struct {
	// ExpiryBuffer must be positive; zero selects DefaultExpiryBuffer.
	ExpiryBuffer     time.Duration
	RefreshTimeout   time.Duration
	SweepParallelism int
	Notifier         notify.Notifier
	Identity         identity.Resolver
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

// Manager keeps callers supplied with valid access tokens.
type Manager struct {
	repo        accounts.Repository
	resolver    *Resolver
	coordinator *Coordinator
	notifier    notify.Notifier
	identity    identity.Resolver
	metrics     *metrics.Metrics
	buffer      time.Duration
	parallelism int
	now         func() time.Time
}

// NewManager creates a token lifecycle manager over repo and exchanger.
func NewManager(repo accounts.Repository, exchanger Exchanger, opts Options) *Manager {
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = DefaultExpiryBuffer
	}
	if opts.SweepParallelism <= 0 {
		opts.SweepParallelism = 4
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}
	if opts.Identity == nil {
		opts.Identity = identity.ContextResolver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		repo:        repo,
		resolver:    NewResolver(repo),
		notifier:    opts.Notifier,
		identity:    opts.Identity,
		metrics:     opts.Metrics,
		buffer:      opts.ExpiryBuffer,
		parallelism: opts.SweepParallelism,
		now:         opts.Now,
	}
	m.coordinator = NewCoordinator(repo, exchanger, CoordinatorOptions{
		Timeout:  opts.RefreshTimeout,
		Buffer:   opts.ExpiryBuffer,
		Escalate: m.escalate,
		Metrics:  opts.Metrics,
		Now:      opts.Now,
	})
	return m
}

// ExpiryBuffer returns the configured proactive refresh margin.
func (m *Manager) ExpiryBuffer() time.Duration {
	return m.buffer
}

// AccessToken returns a valid token for the caller identified by ctx.
func (m *Manager) AccessToken(ctx context.Context) (TokenResult, error) {
	ownerID, ok := m.identity.CurrentOwner(ctx)
	if !ok {
		m.metrics.TokenRequest(StatusNoAccount.String())
		return TokenResult{Status: StatusNoAccount}, nil
	}
	return m.AccessTokenForOwner(ctx, ownerID)
}

// AccessTokenForOwner returns a valid token for the owner's active account.
func (m *Manager) AccessTokenForOwner(ctx context.Context, ownerID string) (TokenResult, error) {
	acc, err := m.resolver.Resolve(ctx, ownerID)
	if err != nil {
		return TokenResult{}, err
	}
	if acc == nil {
		m.metrics.TokenRequest(StatusNoAccount.String())
		return TokenResult{Status: StatusNoAccount}, nil
	}
	return m.tokenFor(ctx, acc)
}

// AccessTokenForAccount returns a valid token for a specific account,
// bypassing owner resolution.
func (m *Manager) AccessTokenForAccount(ctx context.Context, accountID string) (TokenResult, error) {
	acc, err := m.repo.GetByID(ctx, accountID)
	if errors.Is(err, accounts.ErrNotFound) {
		m.metrics.TokenRequest(StatusNoAccount.String())
		return TokenResult{Status: StatusNoAccount}, nil
	}
	if err != nil {
		return TokenResult{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return m.tokenFor(ctx, acc)
}

func (m *Manager) tokenFor(ctx context.Context, acc *accounts.Account) (TokenResult, error) {
	res, err := m.resolveToken(ctx, acc)
	if err == nil {
		m.metrics.TokenRequest(res.Status.String())
	}
	return res, err
}

func (m *Manager) resolveToken(ctx context.Context, acc *accounts.Account) (TokenResult, error) {
	now := m.now()
	state := StateOf(acc, now, m.buffer)

	switch state {
	case StateNeedsReconnection:
		return TokenResult{AccountID: acc.ID, Status: StatusNeedsReconnection}, nil
	case StateValid:
		if err := m.touch(ctx, acc.ID); err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				return TokenResult{Status: StatusNoAccount}, nil
			}
			return TokenResult{}, err
		}
		return TokenResult{
			AccountID:   acc.ID,
			AccessToken: acc.AccessToken,
			Expiry:      *acc.Expiry,
			Status:      StatusOK,
		}, nil
	case StateUnknown:
		log.Printf("%s⚠️ Account %s has no stored expiry, refreshing conservatively", logging.Prefix(ctx), acc.ID)
	default:
		log.Printf("%s⚠️ Token for %s is %s, refreshing...", logging.Prefix(ctx), acc.ProviderIdentity, state)
	}

	out, err := m.coordinator.Refresh(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return TokenResult{Status: StatusNoAccount}, nil
		}
		return TokenResult{}, err
	}
	if out.Reused {
		// Another caller refreshed it first; this is a fast-path hit.
		if err := m.touch(ctx, acc.ID); err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				return TokenResult{Status: StatusNoAccount}, nil
			}
			return TokenResult{}, err
		}
	}
	return resultFromOutcome(out), nil
}

func (m *Manager) touch(ctx context.Context, accountID string) error {
	now := m.now()
	if err := m.repo.Update(ctx, accountID, accounts.Update{LastUsedAt: &now}); err != nil {
		return fmt.Errorf("touch account %s: %w", accountID, err)
	}
	return nil
}

func resultFromOutcome(out Outcome) TokenResult {
	if out.OK() {
		return TokenResult{
			AccountID:   out.AccountID,
			AccessToken: out.AccessToken,
			Expiry:      out.Expiry,
			Status:      StatusOK,
		}
	}
	if out.Reason.Escalates() {
		return TokenResult{AccountID: out.AccountID, Status: StatusNeedsReconnection}
	}
	return TokenResult{AccountID: out.AccountID, Status: StatusRetryLater}
}

// RefreshAccountToken forces a refresh for a specific account, sharing any
// refresh already in flight for it.
func (m *Manager) RefreshAccountToken(ctx context.Context, accountID string) (Outcome, error) {
	return m.coordinator.ForceRefresh(ctx, accountID)
}

// ValidateSession reports the state of the owner's active account without
// writing anything or calling the provider.
func (m *Manager) ValidateSession(ctx context.Context, ownerID string) (Session, error) {
	acc, err := m.resolver.Resolve(ctx, ownerID)
	if err != nil {
		return Session{}, err
	}
	if acc == nil {
		return Session{}, nil
	}

	state := StateOf(acc, m.now(), m.buffer)
	return Session{
		IsValid:      state == StateValid || state == StateExpiringSoon,
		NeedsRefresh: state.NeedsRefresh(),
		Account:      acc,
	}, nil
}

// Accounts lists the owner's linked accounts, most recently used first.
func (m *Manager) Accounts(ctx context.Context, ownerID string) ([]*accounts.Account, error) {
	return m.repo.ListByOwner(ctx, ownerID)
}

// MarkForReconnection clears the account's expiry, flags it as needing
// reconnection and notifies the owner. Until the token pair is replaced by a
// new consent flow, every token request for the account fails fast.
func (m *Manager) MarkForReconnection(ctx context.Context, accountID string) error {
	return m.markForReconnection(ctx, accountID, "manual")
}

func (m *Manager) escalate(ctx context.Context, accountID string, cause error) error {
	return m.markForReconnection(ctx, accountID, Classify(cause).String())
}

func (m *Manager) markForReconnection(ctx context.Context, accountID, reason string) error {
	acc, err := m.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	flag := true
	if err := m.repo.Update(ctx, accountID, accounts.Update{ClearExpiry: true, NeedsReconnection: &flag}); err != nil {
		return fmt.Errorf("mark %s for reconnection: %w", accountID, err)
	}
	m.metrics.Reconnection()
	log.Printf("%s🔒 Account %s marked for reconnection (%s). Please re-link.", logging.Prefix(ctx), acc.ProviderIdentity, reason)

	ev := notify.Event{
		AccountID:        acc.ID,
		OwnerID:          acc.OwnerID,
		Provider:         acc.Provider,
		ProviderIdentity: acc.ProviderIdentity,
		Reason:           reason,
		At:               m.now(),
	}
	if err := m.notifier.Notify(ctx, ev); err != nil {
		log.Printf("%s⚠️ Failed to send reconnect notification for %s: %v", logging.Prefix(ctx), acc.ID, err)
	}
	return nil
}

// SweepReport summarizes one RefreshExpiring pass.
type SweepReport struct {
	Checked   int
	Refreshed int
	Transient int
	Escalated int
}

// RefreshExpiring refreshes every account whose token expires within window,
// going through the coordinator so sweeps never race request-driven refreshes.
func (m *Manager) RefreshExpiring(ctx context.Context, window time.Duration) (SweepReport, error) {
	lister, ok := m.repo.(accounts.ExpiringLister)
	if !ok {
		return SweepReport{}, errors.New("account repository cannot list expiring accounts")
	}
	due, err := lister.ListExpiring(ctx, m.now().Add(window))
	if err != nil {
		return SweepReport{}, err
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Checked: len(due)}
		g      errgroup.Group
	)
	g.SetLimit(m.parallelism)
	for _, acc := range due {
		g.Go(func() error {
			out, err := m.coordinator.RefreshWithin(ctx, acc.ID, window)
			if errors.Is(err, accounts.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.OK():
				report.Refreshed++
				m.metrics.SweepAccount("refreshed")
			case out.Reason.Escalates():
				report.Escalated++
				m.metrics.SweepAccount("escalated")
			default:
				report.Transient++
				m.metrics.SweepAccount("transient")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("refresh expiring accounts: %w", err)
	}

	log.Printf("🔄 Refresh sweep: checked=%d refreshed=%d transient=%d escalated=%d",
		report.Checked, report.Refreshed, report.Transient, report.Escalated)
	return report, nil
}
