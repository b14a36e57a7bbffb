package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/campushub/campushub/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus fans notifications out over Redis Pub/Sub so a notification
// created on one instance reaches a user connected to another. Every
// instance subscribes and delivers to its own registry.
type RedisBus struct {
	client   *redis.Client
	channel  string
	registry *Registry
}

// NewRedisBus creates a bus publishing on channel.
func NewRedisBus(client *redis.Client, channel string, registry *Registry) *RedisBus {
	return &RedisBus{client: client, channel: channel, registry: registry}
}

func (b *RedisBus) Publish(ctx context.Context, n *types.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers every message until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	log.Info().Str("channel", b.channel).Msg("Push bus subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *RedisBus) handleMessage(payload string) bool {
	var n types.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Warn().Err(err).Str("channel", b.channel).Msg("Dropping undecodable bus message")
		return false
	}
	return deliver(b.registry, &n)
}
