package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tessera-ops/bedrock-router/internal/metrics"
)

// Client is the cache access layer used by the batch processor. Caching is
// strictly best-effort: a store failure on read becomes a miss, a store
// failure on write is swallowed, and both are logged for operational
// visibility. A Client with a nil store always misses and drops writes.
type Client struct {
	store  Store
	logger *slog.Logger
}

// NewClient wraps store with the best-effort failure policy. store may be
// nil, which disables caching entirely.
func NewClient(store Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{store: store, logger: logger}
}

// Enabled reports whether a backing store is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.store != nil
}

// Get returns the cached value for key and whether it was found. Store
// errors are never propagated; they count as misses.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	if !c.Enabled() {
		metrics.CacheOps.WithLabelValues("get", "disabled").Inc()
		return "", false
	}
	val, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return "", false
	}
	if err != nil {
		metrics.CacheOps.WithLabelValues("get", "error").Inc()
		c.logger.Error("cache read error", "key", key, "error", err.Error())
		return "", false
	}
	metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	return val, true
}

// Put stores value under key with the given TTL. Write failures are logged
// and swallowed; they must never fail the request that produced the value.
func (c *Client) Put(ctx context.Context, key, value string, ttl time.Duration) {
	if !c.Enabled() {
		metrics.CacheOps.WithLabelValues("put", "disabled").Inc()
		return
	}
	if err := c.store.Put(ctx, key, value, ttl); err != nil {
		metrics.CacheOps.WithLabelValues("put", "error").Inc()
		c.logger.Error("cache write error", "key", key, "error", err.Error())
		return
	}
	metrics.CacheOps.WithLabelValues("put", "ok").Inc()
}
