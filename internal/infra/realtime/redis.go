package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/syncd/internal/core/domain"
)

// Config holds Redis connection configuration.
type Config struct {
	URL           string `yaml:"url"`
	Password      string `yaml:"password"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// RedisSubscriber receives pushed change events over Redis pub/sub.
type RedisSubscriber struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisSubscriber connects to Redis and verifies the connection.
func NewRedisSubscriber(cfg Config) (*RedisSubscriber, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "taskhive:changes"
	}
	return &RedisSubscriber{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisSubscriber) channel(collection string) string {
	return fmt.Sprintf("%s:%s", s.prefix, collection)
}

// Subscribe starts a pub/sub listener for the collection and decodes each
// message into a ChangeEvent. Malformed messages are dropped with a log
// line rather than killing the stream.
func (s *RedisSubscriber) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel(collection))

	// Force the subscription to be established before returning so a
	// caller never races its own writes.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	out := make(chan domain.ChangeEvent, 64)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("Dropping malformed change event", "channel", msg.Channel, "error", err)
					continue
				}
				ev.ReceivedAt = time.Now()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis connection.
func (s *RedisSubscriber) Close() error {
	return s.rdb.Close()
}
