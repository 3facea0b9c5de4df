// Package invalidation fans permission cache invalidations out to every
// instance through Redis pub/sub.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/permission"
)

// DefaultChannel is the pub/sub channel invalidations travel on.
const DefaultChannel = "pecora:permissions:invalidate"

// Applier receives invalidations published by other instances.
// *permission.Cache implements it.
type Applier interface {
	Apply(inv permission.Invalidation)
}

type message struct {
	Origin string `json:"origin"`
	permission.Invalidation
}

// Option configures a RedisBus.
type Option func(*RedisBus)

func WithChannel(channel string) Option {
	return func(b *RedisBus) {
		b.channel = channel
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *RedisBus) {
		b.logger = logger
	}
}

// RedisBus publishes local invalidations and applies remote ones. Each bus
// has a random origin id so an instance skips its own messages.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisBus(client *redis.Client, opts ...Option) *RedisBus {
	b := &RedisBus{
		client:  client,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Origin returns the id stamped on this bus's messages.
func (b *RedisBus) Origin() string {
	return b.origin
}

// Publish sends inv to every subscribed instance.
func (b *RedisBus) Publish(ctx context.Context, inv permission.Invalidation) error {
	payload, err := json.Marshal(message{Origin: b.origin, Invalidation: inv})
	if err != nil {
		return fmt.Errorf("encoding invalidation: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing invalidation: %w", err)
	}
	return nil
}

// Run subscribes to the channel and applies remote invalidations until ctx
// ends. Messages from this bus and undecodable messages are skipped.
func (b *RedisBus) Run(ctx context.Context, applier Applier) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	b.logger.Info("listening for permission invalidations", "channel", b.channel, "origin", b.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload, applier)
		}
	}
}

func (b *RedisBus) handle(ctx context.Context, payload string, applier Applier) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.logger.WarnContext(ctx, "dropping malformed invalidation", "error", err)
		return
	}
	if m.Origin == b.origin {
		return
	}
	b.logger.DebugContext(ctx, "applying remote invalidation",
		"kind", m.Kind,
		"org_id", m.OrgID,
		"origin", m.Origin,
	)
	applier.Apply(m.Invalidation)
}
