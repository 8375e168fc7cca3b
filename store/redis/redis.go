// Package redis provides a Redis-backed implementation of the store
// interface. Values live under a configurable key prefix and every mutation
// is published on a pub/sub channel, so any number of application instances
// sharing the same Redis observe each other's logins and logouts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/jmlago/sessionguard-go/store"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. Required; it remains owned by the
	// caller and is not closed by Store.Close.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "sessionguard:"
	KeyPrefix string
}

// envConfig mirrors Config for env-driven construction.
type envConfig struct {
	Addr      string `env:"SESSIONGUARD_REDIS_ADDR,default=127.0.0.1:6379"`
	DB        int    `env:"SESSIONGUARD_REDIS_DB,default=0"`
	KeyPrefix string `env:"SESSIONGUARD_REDIS_PREFIX,default=sessionguard:"`
}

// Store implements store.Store using Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string

	mu     sync.Mutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates a Redis-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis: client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sessionguard:"
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromEnv builds a Store from environment variables; defaults are provided
// via struct tags.
func NewFromEnv() (*Store, error) {
	var cfg envConfig
	_ = envdecode.Decode(&cfg)
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	return New(Config{Client: client, KeyPrefix: cfg.KeyPrefix})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	s.publish(ctx, store.Event{Key: key})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	s.publish(ctx, store.Event{Key: key, Deleted: true})
	return nil
}

// Watch subscribes to the store's event channel. Events are delivered for
// writes made by any Store sharing the prefix, including this one.
func (s *Store) Watch(ctx context.Context, handler func(store.Event)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.mu.Unlock()

	sub := s.client.Subscribe(ctx, s.eventChannel())
	// Force the subscription to be established before returning so callers
	// cannot miss events published immediately after Watch.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	go func() {
		for msg := range sub.Channel() {
			var ev store.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			handler(ev)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { sub.Close() })
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return cancel, nil
}

// Close marks the store closed. The Redis client is owned by the caller and
// is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) publish(ctx context.Context, ev store.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Best effort: a missed notification degrades cross-instance teardown
	// latency, not correctness. The next Get against the store is
	// authoritative.
	_ = s.client.Publish(ctx, s.eventChannel(), payload).Err()
}

func (s *Store) eventChannel() string {
	return s.keyPrefix + "events"
}
