package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to Redis and publishes events as JSON on channel.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, channel string) (Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &redisPublisher{client: client, channel: channel}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
