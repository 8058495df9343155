package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher sends events with PUBLISH on a single channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects a go-redis client with opts. The connection is
// established lazily on first publish.
func NewRedisPublisher(opts *redis.Options, channel string) *RedisPublisher {
	return &RedisPublisher{client: redis.NewClient(opts), channel: channel}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Ping checks connectivity; main uses it to fail fast on misconfiguration.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client's connection pool.
func (p *RedisPublisher) Close() error { return p.client.Close() }
