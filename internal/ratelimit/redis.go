package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cesargomez89/stemdeck/internal/constants"
	"github.com/cesargomez89/stemdeck/internal/logger"
)

// slidingWindow trims the sorted set to the window, then admits and records
// the request only if fewer than limit members remain.
// Returns {allowed, count, oldest_score_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// Redis shares the window across instances through a sorted set per key.
// When Redis is unreachable requests are admitted and the error is logged.
type Redis struct {
	client *redis.Client
	logger *logger.Logger
	now    func() time.Time
	prefix string
	window time.Duration
	limit  int
}

func NewRedis(client *redis.Client, limit int, window time.Duration, log *logger.Logger) *Redis {
	return &Redis{
		client: client,
		logger: log.WithComponent("ratelimit"),
		now:    time.Now,
		prefix: constants.RedisKeyPrefix,
		window: window,
		limit:  limit,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now().UnixMilli()
	windowMs := r.window.Milliseconds()

	res, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + key},
		now, windowMs, r.limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		r.logger.Error("Rate limit check failed, admitting request", "key", key, "error", err)
		return Decision{Allowed: true, Limit: r.limit, Remaining: r.limit}, nil
	}

	d := Decision{Limit: r.limit}
	if res[0] == 0 {
		d.RetryAfter = time.Duration(res[2]+windowMs-now) * time.Millisecond
		return rejected(d, key)
	}
	d.Allowed = true
	d.Remaining = r.limit - int(res[1])
	return d, nil
}

// Reset removes the window for key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
