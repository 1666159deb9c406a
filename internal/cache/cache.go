// Package cache provides best-effort response caching for the router.
//
// A Store is a key/value store with per-entry TTL. Three implementations
// exist with identical logical semantics: Dynamo (the durable table),
// Redis (the low-latency accelerator path) and Memory (in-process, for
// local development and tests). Core code never talks to a Store directly;
// it goes through Client, which absorbs all store errors so caching can
// never fail a request.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a key/value store with TTL expiry. Get returns ErrMiss for an
// absent or expired key and other errors for store failures. Put writes
// value with an absolute expiry of now + ttl.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}
