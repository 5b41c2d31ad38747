// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisChannelPrefix is prepended to the key to form its change channel.
const redisChannelPrefix = "sessionguard:changes:"

// RedisStore shares the record through a Redis server. Values are stored as
// plain strings; every write is also published as an envelope on the key's
// change channel so watchers learn who wrote it.
type RedisStore struct {
	client *redis.Client
	writer string

	mu      sync.Mutex
	nextID  int
	pubsubs map[int]*redis.PubSub
}

// NewRedisStore connects to url and verifies the connection.
func NewRedisStore(ctx context.Context, url, writer string) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis store: url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: parse url: %w", err)
	}
	return NewRedisStoreFromClient(ctx, redis.NewClient(opts), writer)
}

// NewRedisStoreFromClient wraps an existing client after pinging it.
func NewRedisStoreFromClient(ctx context.Context, client *redis.Client, writer string) (*RedisStore, error) {
	if writer == "" {
		writer = NewWriterID()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: connect: %w", err)
	}

	return &RedisStore{client: client, writer: writer}, nil
}

func redisChannel(key string) string {
	return redisChannelPrefix + key
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set %q: %w", key, err)
	}
	return s.publish(ctx, newEnvelope(key, value, s.writer, false))
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis store: delete %q: %w", key, err)
	}
	return s.publish(ctx, newEnvelope(key, "", s.writer, true))
}

func (s *RedisStore) publish(ctx context.Context, env envelope) error {
	raw, err := env.encode()
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, redisChannel(env.Key), raw).Err(); err != nil {
		return fmt.Errorf("redis store: publish %q: %w", env.Key, err)
	}
	return nil
}

// Watch implements Store. The subscription is confirmed before Watch returns.
func (s *RedisStore) Watch(key string, fn func(value string, ok bool)) (func(), error) {
	ctx := context.Background()
	pubsub := s.client.Subscribe(ctx, redisChannel(key))

	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := pubsub.Receive(confirmCtx)
	cancel()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis store: subscribe %q: %w", key, err)
	}

	s.mu.Lock()
	if s.pubsubs == nil {
		s.pubsubs = make(map[int]*redis.PubSub)
	}
	id := s.nextID
	s.nextID++
	s.pubsubs[id] = pubsub
	s.mu.Unlock()

	go s.receive(pubsub, key, fn)

	return func() {
		s.mu.Lock()
		_, live := s.pubsubs[id]
		delete(s.pubsubs, id)
		s.mu.Unlock()
		if live {
			pubsub.Close()
		}
	}, nil
}

// Watches returns the number of live subscriptions.
func (s *RedisStore) Watches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pubsubs)
}

func (s *RedisStore) receive(pubsub *redis.PubSub, key string, fn func(string, bool)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("STORE_WATCH_PANIC: redis %q: %v", key, r)
		}
	}()

	// The channel is closed when the PubSub is closed.
	for msg := range pubsub.Channel() {
		env, err := decodeEnvelope(msg.Payload)
		if err != nil {
			log.Printf("STORE_WATCH_ERROR: redis %q: %v", key, err)
			continue
		}
		if env.Writer == s.writer || env.Key != key {
			continue
		}
		if env.Deleted {
			fn("", false)
		} else {
			fn(env.Value, true)
		}
	}
}

// Close unsubscribes every watch and closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	pubsubs := s.pubsubs
	s.pubsubs = nil
	s.mu.Unlock()

	for _, p := range pubsubs {
		p.Close()
	}
	return s.client.Close()
}
