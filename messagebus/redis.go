/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the per-user arbitration channels.
const DefaultRedisPrefix = "softphone:headset"

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// UserID scopes the channel so only instances of the same user see each other.
	UserID string
	Logger Logger
}

// RedisBus broadcasts arbitration messages over Redis pub/sub.
type RedisBus struct {
	client   *redis.Client
	pubsub   *redis.PubSub
	channel  string
	clientID string
	logger   Logger
	handlers handlerSet

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRedisBus connects to Redis and subscribes to the user's channel.
func NewRedisBus(ctx context.Context, opts RedisOptions) (*RedisBus, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required to scope the redis channel")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: strings.TrimSpace(opts.Username),
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisBus(ctx, c, RedisChannel(prefix, userID), opts.Logger)
}

// RedisChannel returns the pub/sub channel used for userID.
func RedisChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:%s", prefix, userID)
}

func newRedisBus(ctx context.Context, c *redis.Client, channel string, logger Logger) (*RedisBus, error) {
	if logger == nil {
		logger = log.Default()
	}

	ps := c.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = c.Close()
		return nil, fmt.Errorf("redis subscribe to %s failed: %w", channel, err)
	}

	b := &RedisBus{
		client:   c,
		pubsub:   ps,
		channel:  channel,
		clientID: NewMessageID(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go b.listen(ps.Channel())
	return b, nil
}

// ClientID returns the instance id stamped on frames this bus sends.
func (b *RedisBus) ClientID() string { return b.clientID }

// Send publishes msg on the user's channel.
func (b *RedisBus) Send(ctx context.Context, msg Message) (string, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return "", errClosed("redis")
	}

	frame, id, err := newFrame(b.clientID, msg)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("error marshaling frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return "", fmt.Errorf("redis publish failed: %w", err)
	}
	return id, nil
}

// Subscribe registers h for inbound messages.
func (b *RedisBus) Subscribe(h Handler) func() {
	return b.handlers.add(h)
}

// Close unsubscribes and closes the Redis client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	err := b.pubsub.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *RedisBus) listen(ch <-chan *redis.Message) {
	for {
		select {
		case <-b.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var frame Frame
			if err := json.Unmarshal([]byte(m.Payload), &frame); err != nil {
				b.logger.Printf("RedisBus: dropping malformed frame on %s: %v", m.Channel, err)
				continue
			}
			in, err := toInbound(frame, b.clientID, true)
			if err != nil {
				b.logger.Printf("RedisBus: dropping frame from %s: %v", frame.From, err)
				continue
			}
			b.handlers.dispatch(in)
		}
	}
}
