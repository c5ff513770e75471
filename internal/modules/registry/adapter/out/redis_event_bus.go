package out

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"plughost/internal/modules/registry/domain"
)

// RedisEventBus carries registry events over redis pub/sub so several
// processes sharing one registry see each other's changes.
type RedisEventBus struct {
	client *redis.Client
	prefix string
	logger hclog.Logger
}

func NewRedisEventBus(redisURL, prefix string, logger hclog.Logger) (*RedisEventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "plughost"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RedisEventBus{client: client, prefix: prefix, logger: logger.Named("events")}, nil
}

func (b *RedisEventBus) channel(userID string) string {
	return b.prefix + ":events:" + userID
}

func (b *RedisEventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(event.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (b *RedisEventBus) Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error) {
	sub := b.client.Subscribe(ctx, b.channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("decode event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisEventBus) Close() error {
	return b.client.Close()
}
