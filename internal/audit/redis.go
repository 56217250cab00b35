// ABOUTME: Redis pub/sub audit sink
// ABOUTME: Publishes each audit record as JSON on a configured channel

package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// publisher is the subset of *redis.Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes audit records to a Redis channel.
type RedisSink struct {
	client  publisher
	closer  func() error
	channel string
}

// RedisOptions configures NewRedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisSink{client: rdb, closer: rdb.Close, channel: opts.Channel}, nil
}

// Publish sends r as JSON.
func (s *RedisSink) Publish(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.channel, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
