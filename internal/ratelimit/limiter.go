// Package ratelimit meters the ingest endpoints with a redis-backed token
// bucket per tenant. Endpoints charge different costs: a fetch request fans
// out to every configured market source, so it drains more of a tenant's
// budget than a single proposal does.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:ingest:"

// Decision is the outcome of one withdrawal. RetryAfter is only meaningful
// when Allowed is false: it estimates how long until enough tokens accrue.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// Limiter is a distributed token bucket shared by all API replicas.
type Limiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

func New(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow withdraws cost tokens from the tenant's bucket. The refill, the
// withdrawal, and the denial accounting run in one script so concurrent
// replicas never double-spend a token.
func (l *Limiter) Allow(ctx context.Context, tenant string, cost int) (Decision, error) {
	if cost <= 0 {
		cost = 1
	}
	now := time.Now().UnixMilli()
	res, err := drainScript.Run(ctx, l.client, []string{keyPrefix + tenant},
		l.capacity, l.refill, cost, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	dec := Decision{Allowed: toInt(arr[0]) == 1}
	dec.Remaining, err = toFloat(arr[1])
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: bad token count: %w", err)
	}
	dec.RetryAfter = time.Duration(toInt(arr[2])) * time.Millisecond
	return dec, nil
}

func toInt(v interface{}) int64 {
	if i, ok := v.(int64); ok {
		return i
	}
	return 0
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseFloat(x, 64)
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// The remaining token count comes back as a string because redis truncates
// Lua numbers to integers in replies.
var drainScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
elseif refill > 0 then
  retry_ms = math.ceil((cost - tokens) / refill * 1000)
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens), retry_ms}
`)
