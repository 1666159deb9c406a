package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the accelerator-fronted store: a low-latency cache path in front
// of (or instead of) the durable table. Entry expiry is delegated to the
// server via SET with TTL.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. addr is host:port.
func NewRedis(addr, password string, db int) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{rdb: rdb, prefix: "response:"}
}

// NewRedisFromClient wraps an existing client. Used by tests.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "response:"}
}

// Get returns the value for key, or ErrMiss if absent or expired.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Put stores value under key, expiring after ttl.
func (r *Redis) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
