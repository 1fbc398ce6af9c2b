package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher fans application events out over a Redis pub/sub channel.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps a Redis client for publishing.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends a payload on the given channel. A nil client makes this a
// no-op so the API can run without Redis in development.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Publish(ctx, channel, payload).Err()
}
