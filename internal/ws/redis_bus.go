package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"log/slog"

	"github.com/philipyoungg/ws-pubsub/internal/app"
	"github.com/redis/go-redis/v9"
)

// RedisBus is the backplane over Redis pub/sub.
// Publishing and subscribing use separate clients: a connection in
// subscribe mode can't issue PUBLISH.
type RedisBus struct {
	pub    *redis.Client
	subc   *redis.Client
	pubsub *redis.PubSub
	out    chan BusMessage
	log    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisBus connects both clients and verifies connectivity
func NewRedisBus(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBus, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	pub := redis.NewClient(opts)
	subc := redis.NewClient(opts)

	for _, c := range []*redis.Client{pub, subc} {
		if err := c.Ping(ctx).Err(); err != nil {
			_ = pub.Close()
			_ = subc.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
	}

	b := &RedisBus{
		pub:    pub,
		subc:   subc,
		pubsub: subc.Subscribe(ctx),
		out:    make(chan BusMessage, 1024),
		log:    log,
		done:   make(chan struct{}),
	}
	go b.forward()
	return b, nil
}

// forward copies redis messages onto out until the pubsub or the bus is closed
func (b *RedisBus) forward() {
	defer close(b.out)
	for msg := range b.pubsub.Channel() {
		select {
		case b.out <- BusMessage{Channel: msg.Channel, Payload: msg.Payload}:
		case <-b.done:
			return
		}
	}
}

// Publish sends a message on a channel
func (b *RedisBus) Publish(ctx context.Context, channel, message string) error {
	return b.pub.Publish(ctx, channel, message).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) error {
	return b.pubsub.Subscribe(ctx, channels...)
}

func (b *RedisBus) Unsubscribe(ctx context.Context, channels ...string) error {
	return b.pubsub.Unsubscribe(ctx, channels...)
}

// Messages returns inbound messages for every subscribed channel
func (b *RedisBus) Messages() <-chan BusMessage { return b.out }

// Ping checks both connections
func (b *RedisBus) Ping(ctx context.Context) error {
	return errors.Join(b.pub.Ping(ctx).Err(), b.subc.Ping(ctx).Err())
}

// Close shuts down the redis connections; Messages is closed once forward stops
func (b *RedisBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.pubsub.Close()
		_ = b.subc.Close()
		_ = b.pub.Close()
	})
}
