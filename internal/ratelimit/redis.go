package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript mirrors weightedCount: it returns -1 when the window is
// full, otherwise the remaining requests after counting this one.
var slidingWindowScript = redis.NewScript(`
local currentKey = KEYS[1]
local previousKey = KEYS[2]
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", currentKey) or "0")
local previous = tonumber(redis.call("GET", previousKey) or "0")
local elapsed = (now % window) / window
previous = math.floor((1 - elapsed) * previous)

if previous + current >= limit then
  return -1
end

local value = redis.call("INCRBY", currentKey, 1)
if value == 1 then
  redis.call("PEXPIRE", currentKey, window * 2 + 1000)
end
return limit - (value + previous)
`)

// RedisWindow keeps sliding windows in Redis so every instance shares them.
type RedisWindow struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisWindow wraps a Redis client.
func NewRedisWindow(client redis.Scripter) *RedisWindow {
	return &RedisWindow{client: client, now: time.Now}
}

// NewRedisClient connects to the limiter's Redis and pings it. addr is
// either host:port or a redis:// or rediss:// URL.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
	}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if password != "" {
			parsed.Password = password
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (w *RedisWindow) Limit(ctx context.Context, key string, limit int, period time.Duration) (Result, error) {
	if period < time.Millisecond {
		return Result{}, fmt.Errorf("period %s is below one millisecond", period)
	}
	now := w.now()
	idx := windowIndex(now, period)
	keys := []string{
		fmt.Sprintf("%s:%d", key, idx),
		fmt.Sprintf("%s:%d", key, idx-1),
	}

	remaining, err := slidingWindowScript.Run(ctx, w.client, keys, limit, now.UnixMilli(), period.Milliseconds()).Int64()
	if err != nil {
		return Result{}, fmt.Errorf("run sliding window script: %w", err)
	}

	res := Result{Limit: limit, Reset: windowReset(now, period)}
	if remaining < 0 {
		return res, nil
	}
	res.Success = true
	res.Remaining = int(remaining)
	return res, nil
}
