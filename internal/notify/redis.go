package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes each message as JSON on the recipient's
// channel, <prefix>:agent:<recipient>.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, opts *redis.Options, prefix string) (*RedisNotifier, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisNotifierWithClient(client, prefix), nil
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "consensus"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel a recipient listens on.
func (n *RedisNotifier) Channel(recipient string) string {
	return n.prefix + ":agent:" + recipient
}

// Notify publishes one message per recipient. Every recipient is
// attempted; the errors are joined.
func (n *RedisNotifier) Notify(ctx context.Context, sender string, recipients []string, content string, metadata map[string]any) error {
	now := time.Now()
	var errs []error
	for _, r := range recipients {
		payload, err := json.Marshal(newMessage(sender, r, content, metadata, now))
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if err := n.client.Publish(ctx, n.Channel(r), payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
