package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/tokenkeeper/internal/accounts"
	"github.com/pysugar/tokenkeeper/internal/notify"
	"github.com/stretchr/testify/require"
)

// fakeExchanger counts provider calls and can hold them on a gate so tests
// control when an in-flight refresh completes.
type fakeExchanger struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	respond func(call int, refreshToken string) (*Grant, error)
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{
		started: make(chan struct{}, 64),
		respond: func(call int, _ string) (*Grant, error) {
			return &Grant{
				AccessToken: fmt.Sprintf("access-%d", call),
				Expiry:      time.Now().Add(time.Hour + time.Duration(call)*time.Minute),
			}, nil
		},
	}
}

func (f *fakeExchanger) Exchange(_ context.Context, refreshToken string) (*Grant, error) {
	n := int(f.calls.Add(1))
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.respond(n, refreshToken)
}

func (f *fakeExchanger) Calls() int {
	return int(f.calls.Load())
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type providerError string

func (e providerError) Error() string { return string(e) }

const invalidGrant = providerError(`oauth2: "invalid_grant" "Token has been expired or revoked."`)

func expiresIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func seedAccount(t *testing.T, repo *accounts.MemoryRepository, acc *accounts.Account) *accounts.Account {
	t.Helper()
	if acc.OwnerID == "" {
		acc.OwnerID = "owner-1"
	}
	if acc.AccessToken == "" {
		acc.AccessToken = "access-0"
	}
	if acc.ProviderIdentity == "" {
		acc.ProviderIdentity = acc.ID + "@example.com"
	}
	created, err := repo.Create(context.Background(), acc)
	require.NoError(t, err)
	return created
}

func getAccount(t *testing.T, repo accounts.Repository, id string) *accounts.Account {
	t.Helper()
	acc, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}
