package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyDeviceWindow = "ingest:device:%s"

// INCR and first-hit PEXPIRE run atomically so concurrent requests cannot both
// observe a count under the limit.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RedisFixedWindow shares window state across gateway instances.
type RedisFixedWindow struct {
	client *redis.Client
	script *redis.Script
	window time.Duration
	limit  int
}

func NewRedisFixedWindow(client *redis.Client, window time.Duration, limit int) *RedisFixedWindow {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisFixedWindow{
		client: client,
		script: redis.NewScript(fixedWindowScript),
		window: window,
		limit:  limit,
	}
}

func (r *RedisFixedWindow) Check(ctx context.Context, key string) (Decision, error) {
	if r == nil || r.client == nil {
		return Decision{}, errors.New("rate limiter not configured")
	}
	if key == "" {
		return Decision{}, errors.New("rate limiter key is empty")
	}

	res, err := r.script.Run(
		ctx,
		r.client,
		[]string{fmt.Sprintf(keyDeviceWindow, key)},
		r.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 2 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	count := int(res[0])
	return Decision{
		Allowed: count <= r.limit,
		Count:   count,
		Limit:   r.limit,
		ResetAt: time.Now().UTC().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
