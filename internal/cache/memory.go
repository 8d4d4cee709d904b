package cache

import (
	"context"
	"sync"
	"time"
)

type memoryClient struct {
	prefix string
	mu     sync.Mutex
	data   map[string]memoryEntry
	wins   map[string][]time.Time
	bkts   map[string]*memoryBucket
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
	noExpire  bool
}

type memoryBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemory builds the in-process backend.
func NewMemory(prefix string) *memoryClient {
	return &memoryClient{
		prefix: prefix,
		data:   make(map[string]memoryEntry),
		wins:   make(map[string][]time.Time),
		bkts:   make(map[string]*memoryBucket),
	}
}

func (c *memoryClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *memoryClient) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[c.key(key)]
	if !ok || (!entry.noExpire && time.Now().After(entry.expiresAt)) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (c *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{value: value, noExpire: ttl == 0}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data[c.key(key)] = entry
	return nil
}

func (c *memoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, c.key(key))
	return nil
}

func (c *memoryClient) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[c.key(key)]
	if !ok || (!entry.noExpire && time.Now().After(entry.expiresAt)) {
		return false, nil
	}
	return true, nil
}

func (c *memoryClient) SlidingWindowAllow(ctx context.Context, key string, max int, window time.Duration) (WindowResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	k := c.key("win:" + key)
	cutoff := now.Add(-window)

	hits := c.wins[k]
	kept := hits[:0]
	for _, h := range hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}

	res := WindowResult{ResetAt: now.Add(window)}
	if len(kept) >= max {
		c.wins[k] = kept
		res.Count = int64(len(kept))
		res.RetryAfter = kept[0].Add(window).Sub(now)
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
		return res, nil
	}

	kept = append(kept, now)
	c.wins[k] = kept
	res.Allowed = true
	res.Count = int64(len(kept))
	res.Remaining = int64(max - len(kept))
	return res, nil
}

func (c *memoryClient) TokenBucketTake(ctx context.Context, key string, maxTokens, refillPerWindow float64, window time.Duration) (BucketResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	k := c.key("bkt:" + key)

	b, ok := c.bkts[k]
	if !ok {
		b = &memoryBucket{tokens: maxTokens, lastRefill: now}
		c.bkts[k] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += elapsed.Seconds() / window.Seconds() * refillPerWindow
		if b.tokens > maxTokens {
			b.tokens = maxTokens
		}
		b.lastRefill = now
	}

	res := BucketResult{}
	if b.tokens >= 1 {
		b.tokens--
		res.Allowed = true
	} else if refillPerWindow > 0 {
		need := 1 - b.tokens
		res.RetryAfter = time.Duration(need / refillPerWindow * float64(window))
	}
	res.Remaining = b.tokens
	return res, nil
}

// Cleanup prunes expired entries, rolled-off window hits, and buckets idle
// long enough to be full again.
func (c *memoryClient) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, entry := range c.data {
		if !entry.noExpire && now.After(entry.expiresAt) {
			delete(c.data, k)
		}
	}
	for k, hits := range c.wins {
		if len(hits) == 0 || now.Sub(hits[len(hits)-1]) > time.Hour {
			delete(c.wins, k)
		}
	}
	for k, b := range c.bkts {
		if now.Sub(b.lastRefill) > time.Hour {
			delete(c.bkts, k)
		}
	}
	return nil
}

func (c *memoryClient) Ping(ctx context.Context) error { return nil }

func (c *memoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	c.wins = nil
	c.bkts = nil
	return nil
}
