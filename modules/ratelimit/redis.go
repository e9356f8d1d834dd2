package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix prefixes every Redis key written by RedisLimiter.
const DefaultKeyPrefix = "collab:ratelimit:"

// slidingWindow removes entries older than the window, then admits the
// request when the remaining count is below the limit.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local counter_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < limit then
		local counter = redis.call('INCR', counter_key)
		redis.call('ZADD', key, now, now .. ':' .. counter)
		redis.call('PEXPIRE', key, window_ms)
		redis.call('PEXPIRE', counter_key, window_ms)
		return {1, limit - count - 1}
	end
	return {0, 0}
`)

// RedisLimiter implements a sliding window limiter shared by every process
// that points at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	config Config
	prefix string
}

// NewRedisLimiter creates a sliding window limiter over client.
func NewRedisLimiter(client *redis.Client, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisLimiter{
		client: client,
		config: cfg.normalized(),
		prefix: prefix,
	}
}

// Allow records one message for key if the window has room.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := l.prefix + key

	result, err := slidingWindow.Run(ctx, l.client, []string{redisKey, redisKey + ":counter"},
		now.UnixMilli(),
		now.Add(-l.config.Window).UnixMilli(),
		l.config.Limit,
		l.config.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(result) != 2 {
		return false, fmt.Errorf("unexpected rate limit response length: %d", len(result))
	}
	return result[0] == 1, nil
}

// Forget deletes the window kept for key.
func (l *RedisLimiter) Forget(ctx context.Context, key string) error {
	redisKey := l.prefix + key
	return l.client.Del(ctx, redisKey, redisKey+":counter").Err()
}
