package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notifier carries "collection changed" events between processes that share
// one database.
type Notifier interface {
	Publish(ctx context.Context, collection string) error
	// Listen calls fn for every change published by another process until
	// ctx is cancelled.
	Listen(ctx context.Context, fn func(collection string)) error
}

// RedisOptions configures a RedisNotifier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisNotifier publishes change events on a Redis pub/sub channel. Each
// message is "<origin>|<collection>"; a notifier ignores its own messages
// since local listeners are woken directly.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisNotifier creates a notifier backed by Redis.
func NewRedisNotifier(opts RedisOptions, logger *slog.Logger) *RedisNotifier {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	channel := opts.Channel
	if channel == "" {
		channel = "tada:changes"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{
		client:  rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "redis-notifier"),
	}
}

// Ping checks that Redis is reachable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	if err := n.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Publish(ctx context.Context, collection string) error {
	return n.client.Publish(ctx, n.channel, n.origin+"|"+collection).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context, fn func(collection string)) error {
	ps := n.client.Subscribe(ctx, n.channel)
	// Wait for the subscription to be confirmed so no event published after
	// Listen returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	go func() {
		defer func() { _ = ps.Close() }()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				origin, collection, found := strings.Cut(msg.Payload, "|")
				if !found {
					n.logger.Warn("malformed change event", "payload", msg.Payload)
					continue
				}
				if origin == n.origin {
					continue
				}
				fn(collection)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection pool.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
