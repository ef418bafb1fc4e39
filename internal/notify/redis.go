package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel reconnection events are published on.
const DefaultChannel = "tokenkeeper:reconnect"

// Redis publishes events as JSON on a Redis pub/sub channel, where the
// user-facing notification service picks them up.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis creates a Redis notifier. An empty channel uses DefaultChannel.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal reconnect event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish reconnect event for %s: %w", ev.AccountID, err)
	}
	return nil
}
