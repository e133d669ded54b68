package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "\x00pending"

// RedisStore shares idempotency keys between replicas.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to the redis instance at url.
func NewRedisStore(url, prefix string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts), prefix: prefix, ttl: ttl}, nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Begin(ctx context.Context, key string) ([]byte, bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	value, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry.
		return nil, false, ErrInProgress
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if string(value) == pendingMarker {
		return nil, false, ErrInProgress
	}
	return value, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, response []byte) error {
	if err := s.rdb.Set(ctx, s.key(key), response, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record idempotent response: %w", err)
	}
	return nil
}

func (s *RedisStore) Abort(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
