package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle is a Redis-backed token bucket that bounds how fast items are
// handed back to the pipeline. One bucket per scope (driver cycle, API
// caller), refilled continuously.
type Throttle struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewThrottle constructs a throttle with the provided capacity and refill rate.
func NewThrottle(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Throttle {
	return &Throttle{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the scope if available.
func (t *Throttle) Allow(ctx context.Context, scope string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := refillScript.Run(ctx, t.client, []string{"throttle:" + scope},
		t.capacity, t.refill, now, t.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	return parseAllowed(res)
}

func parseAllowed(res any) (bool, error) {
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected type from throttle script: %T", res)
	}
	return n == 1, nil
}

var refillScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return allowed
`)
