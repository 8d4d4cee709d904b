// Package cache is the key/value and counter side of the durable record
// store. It offers TTL'd get/set plus the atomic admission primitives the
// rate limiter depends on.
//
// Backends:
//   - memory (in-process, for development and tests)
//   - redis (shared, for production; every instance sees the same counters)
//
// The admission primitives must be atomic: two concurrent calls against the
// same key may never both observe the pre-update state. The redis backend
// runs them as Lua scripts; the memory backend holds a lock.
package cache

import (
	"context"
	"time"
)

// Client is the store-agnostic cache surface.
type Client interface {
	// Get returns a value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. ttl of 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// SlidingWindowAllow records one hit against a trailing window and
	// reports whether it fits under max. Hits older than the window are
	// discarded first. The hit is only recorded when allowed.
	SlidingWindowAllow(ctx context.Context, key string, max int, window time.Duration) (WindowResult, error)

	// TokenBucketTake lazily refills the bucket from its last-refill
	// timestamp, capped at maxTokens, then tries to consume one token.
	TokenBucketTake(ctx context.Context, key string, maxTokens, refillPerWindow float64, window time.Duration) (BucketResult, error)

	// Cleanup removes expired entries and idle buckets. The redis backend
	// relies on key TTLs and treats this as a no-op.
	Cleanup(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// WindowResult is the outcome of one sliding-window check.
type WindowResult struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetAt    time.Time
}

// BucketResult is the outcome of one token-bucket consume.
type BucketResult struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
}

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "cache: key not found" }

// IsNotFound reports whether err is the missing-key sentinel.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New builds a client for the configured driver.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
