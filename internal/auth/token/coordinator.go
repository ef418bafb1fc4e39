package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/logging"
	"github.com/pysugar/tokenkeeper/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a single provider refresh, so an in-flight
// entry always resolves.
const DefaultRefreshTimeout = 30 * time.Second

// forceRefresh disables the due check in refresh.
const forceRefresh time.Duration = -1

// Grant is what the provider returns for a successful refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string // set when the provider rotates the refresh token
	Expiry       time.Time
	Scopes       []string
}

// Exchanger trades a refresh token for a new access token at the provider.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (*Grant, error)
}

// EscalateFunc is called for terminal and integrity failures before the
// outcome is handed to waiting callers.
type EscalateFunc func(ctx context.Context, accountID string, cause error) error

// Coordinator runs at most one provider refresh per account at a time.
// Callers that arrive while a refresh is in flight wait for it and receive
// the same Outcome.
type Coordinator struct {
	repo      accounts.Repository
	exchanger Exchanger
	escalate  EscalateFunc
	timeout   time.Duration
	buffer    time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	group   singleflight.Group
	waiters atomic.Int64
}

// CoordinatorOptions configures a Coordinator. Zero values use defaults.
type CoordinatorOptions struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
	Now     func() time.Time

	// Buffer is the expiry margin Refresh uses to decide whether a stored
	// token still needs refreshing. Zero uses DefaultExpiryBuffer.
	Buffer   time.Duration
	Escalate EscalateFunc
}

// NewCoordinator creates a refresh coordinator.
func NewCoordinator(repo accounts.Repository, exchanger Exchanger, opts CoordinatorOptions) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRefreshTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultExpiryBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		repo:      repo,
		exchanger: exchanger,
		escalate:  opts.Escalate,
		timeout:   opts.Timeout,
		buffer:    opts.Buffer,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Refresh refreshes accountID's access token, joining a refresh already in
// flight for the same account. The account is re-read inside the flight: if
// another refresh already brought it outside the expiry buffer, the stored
// token is returned with Reused set and the provider is not called.
//
// Expected failures come back as an Outcome with a Reason; the error is
// reserved for a missing account (accounts.ErrNotFound), a cancelled wait, or
// repository failures.
//
// Cancelling ctx only stops this caller from waiting. The refresh itself runs
// to completion for the benefit of the other callers.
func (c *Coordinator) Refresh(ctx context.Context, accountID string) (Outcome, error) {
	return c.do(ctx, accountID, c.buffer)
}

// RefreshWithin is Refresh with a wider due margin, for sweeps that refresh
// ahead of the request-time buffer.
func (c *Coordinator) RefreshWithin(ctx context.Context, accountID string, window time.Duration) (Outcome, error) {
	if window < 0 {
		window = 0
	}
	return c.do(ctx, accountID, window)
}

// ForceRefresh calls the provider even when the stored token is still valid.
// It still joins a refresh already in flight.
func (c *Coordinator) ForceRefresh(ctx context.Context, accountID string) (Outcome, error) {
	return c.do(ctx, accountID, forceRefresh)
}

func (c *Coordinator) do(ctx context.Context, accountID string, within time.Duration) (Outcome, error) {
	ch := c.group.DoChan(accountID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(rctx, accountID, within)
	})

	c.waiters.Add(1)
	defer c.waiters.Add(-1)

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.SharedRefresh()
		}
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("wait for refresh of %s: %w", accountID, ctx.Err())
	}
}

// Waiters returns the number of callers currently waiting on a refresh.
func (c *Coordinator) Waiters() int64 {
	return c.waiters.Load()
}

func (c *Coordinator) refresh(ctx context.Context, accountID string, within time.Duration) (Outcome, error) {
	acc, err := c.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("load account %s: %w", accountID, err)
	}

	if acc.NeedsReconnection {
		// Already escalated; the refresh token is known to be dead.
		return Outcome{
			AccountID: accountID,
			Reason:    ReasonTerminal,
			Err:       NewRefreshError(ReasonTerminal, errors.New("account needs reconnection")),
		}, nil
	}
	if within != forceRefresh && !StateOf(acc, c.now(), within).NeedsRefresh() {
		// Refreshed by an earlier flight after the caller read its snapshot.
		return Outcome{
			AccountID:   acc.ID,
			AccessToken: acc.AccessToken,
			Expiry:      *acc.Expiry,
			Reused:      true,
		}, nil
	}
	if !acc.HasRefreshToken() {
		return c.fail(ctx, acc, NewRefreshError(ReasonIntegrity, errors.New("no refresh token stored")))
	}

	start := time.Now()
	grant, err := c.exchanger.Exchange(ctx, acc.RefreshToken)
	elapsed := time.Since(start)
	if err != nil {
		rerr := NewRefreshError(Classify(err), err)
		c.metrics.ObserveRefresh(rerr.Reason.String(), elapsed)
		return c.fail(ctx, acc, rerr)
	}
	if err := checkGrant(acc, grant); err != nil {
		c.metrics.ObserveRefresh(ReasonIntegrity.String(), elapsed)
		return c.fail(ctx, acc, err)
	}

	now := c.now()
	update := accounts.Update{
		AccessToken: &grant.AccessToken,
		Expiry:      &grant.Expiry,
		LastUsedAt:  &now,
	}
	if grant.RefreshToken != "" && grant.RefreshToken != acc.RefreshToken {
		log.Printf("%s🔄 Rotating refresh token for: %s", logging.Prefix(ctx), acc.ProviderIdentity)
		update.RefreshToken = &grant.RefreshToken
	}
	if err := c.repo.Update(ctx, acc.ID, update); err != nil {
		return Outcome{}, fmt.Errorf("persist refreshed token for %s: %w", acc.ID, err)
	}

	c.metrics.ObserveRefresh(ReasonNone.String(), elapsed)
	log.Printf("%s✅ Refreshed token for: %s (expires: %s)",
		logging.Prefix(ctx), acc.ProviderIdentity, grant.Expiry.Format(time.RFC3339))
	return Outcome{
		AccountID:   acc.ID,
		AccessToken: grant.AccessToken,
		Expiry:      grant.Expiry,
	}, nil
}

// checkGrant rejects grants that would leave the record inconsistent. Expiry
// must move strictly forward on every refresh.
func checkGrant(acc *accounts.Account, grant *Grant) *RefreshError {
	if grant == nil || grant.AccessToken == "" {
		return NewRefreshError(ReasonIntegrity, errors.New("provider returned an empty access token"))
	}
	if grant.Expiry.IsZero() {
		return NewRefreshError(ReasonIntegrity, errors.New("provider returned no expiry"))
	}
	if acc.Expiry != nil && !grant.Expiry.After(*acc.Expiry) {
		return NewRefreshError(ReasonIntegrity, fmt.Errorf("expiry %s does not advance past %s",
			grant.Expiry.Format(time.RFC3339), acc.Expiry.Format(time.RFC3339)))
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, acc *accounts.Account, rerr *RefreshError) (Outcome, error) {
	log.Printf("%s❌ Refresh token failed for %s: %s", logging.Prefix(ctx), acc.ProviderIdentity, logging.TruncateError(rerr))

	if rerr.Reason.Escalates() {
		if c.escalate != nil {
			if err := c.escalate(ctx, acc.ID, rerr); err != nil {
				return Outcome{}, fmt.Errorf("escalate %s: %w", acc.ID, err)
			}
		}
	} else {
		log.Printf("%s⏳ Transient refresh failure for %s, account left untouched", logging.Prefix(ctx), acc.ProviderIdentity)
	}

	return Outcome{AccountID: acc.ID, Reason: rerr.Reason, Err: rerr}, nil
}
