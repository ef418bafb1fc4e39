// Package notify delivers "please reconnect your account" events to users.
package notify

import (
	"context"
	"errors"
	"log"
	"time"
)

// Event is emitted when an account's refresh path is dead and the owner must
// go through the consent flow again.
type Event struct {
	AccountID        string    `json:"account_id"`
	OwnerID          string    `json:"owner_id"`
	Provider         string    `json:"provider"`
	ProviderIdentity string    `json:"provider_identity"`
	Reason           string    `json:"reason"`
	At               time.Time `json:"at"`
}

// Notifier publishes reconnection events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes events to the process log.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(_ context.Context, ev Event) error {
	log.Printf("🔔 Reconnect required: account=%s owner=%s identity=%s reason=%s",
		ev.AccountID, ev.OwnerID, ev.ProviderIdentity, ev.Reason)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
