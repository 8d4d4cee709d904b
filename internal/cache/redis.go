package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript drops expired hits, counts the rest, and records the
// new hit only when it fits. Runs atomically server-side, so concurrent
// checks against one key serialize in redis.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] then
		retry = (tonumber(oldest[2]) + window) - now
	end
	if retry < 0 then retry = 0 end
	return {0, count, retry}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// tokenBucketScript refills from last_refill and consumes one token when
// at least one is available. Tokens travel as strings to keep float
// precision across the redis protocol.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local refill = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil or last == nil then
	tokens = max
	last = now
end

local elapsed = now - last
if elapsed > 0 then
	tokens = tokens + (elapsed / window) * refill
	if tokens > max then tokens = max end
	last = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', last)
redis.call('PEXPIRE', key, window * 10)
return {allowed, tostring(tokens)}
`)

type redisClient struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and verifies the connection.
func NewRedis(cfg Config) (*redisClient, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}

	return &redisClient{client: rdb, prefix: cfg.Prefix}, nil
}

func (c *redisClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *redisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *redisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *redisClient) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *redisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisClient) SlidingWindowAllow(ctx context.Context, key string, max int, window time.Duration) (WindowResult, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + randSuffix()

	raw, err := slidingWindowScript.Run(ctx, c.client,
		[]string{c.key("win:" + key)},
		now.UnixMilli(), window.Milliseconds(), max, member,
	).Slice()
	if err != nil {
		return WindowResult{}, err
	}
	if len(raw) != 3 {
		return WindowResult{}, fmt.Errorf("cache: unexpected script reply %v", raw)
	}

	allowed := toInt64(raw[0]) == 1
	count := toInt64(raw[1])
	retryMs := toInt64(raw[2])

	res := WindowResult{
		Allowed: allowed,
		Count:   count,
		ResetAt: now.Add(window),
	}
	if remaining := int64(max) - count; remaining > 0 {
		res.Remaining = remaining
	}
	if !allowed {
		res.RetryAfter = time.Duration(retryMs) * time.Millisecond
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res, nil
}

func (c *redisClient) TokenBucketTake(ctx context.Context, key string, maxTokens, refillPerWindow float64, window time.Duration) (BucketResult, error) {
	now := time.Now()
	raw, err := tokenBucketScript.Run(ctx, c.client,
		[]string{c.key("bkt:" + key)},
		now.UnixMilli(), window.Milliseconds(), maxTokens, refillPerWindow,
	).Slice()
	if err != nil {
		return BucketResult{}, err
	}
	if len(raw) != 2 {
		return BucketResult{}, fmt.Errorf("cache: unexpected script reply %v", raw)
	}

	allowed := toInt64(raw[0]) == 1
	tokens, _ := strconv.ParseFloat(fmt.Sprint(raw[1]), 64)

	res := BucketResult{Allowed: allowed, Remaining: tokens}
	if !allowed && refillPerWindow > 0 {
		need := 1 - tokens
		res.RetryAfter = time.Duration(need / refillPerWindow * float64(window))
	}
	return res, nil
}

// Cleanup is a no-op: every key written by this backend carries a TTL.
func (c *redisClient) Cleanup(ctx context.Context) error { return nil }

func (c *redisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisClient) Close() error {
	return c.client.Close()
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func randSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
