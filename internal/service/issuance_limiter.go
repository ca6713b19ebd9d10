package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IssuanceLimiter throttles credential issuance per subject and per source
// address over a fixed window.
type IssuanceLimiter interface {
	AllowSubject(ctx context.Context, subject string) (bool, error)
	AllowSource(ctx context.Context, sourceIP string) (bool, error)
}

// Fixed-window counter: first INCR in the window sets the expiry, every
// call compares against the limit. A single script keeps INCR and PEXPIRE
// atomic so a crashed client cannot leave an immortal counter.
var issuanceWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("PEXPIRE", key, window_ms)
end
if count > limit then
  return 0
end
return 1
`)

type RedisIssuanceLimiter struct {
	client       redis.UniversalClient
	subjectLimit int
	sourceLimit  int
	window       time.Duration
	prefix       string
}

func NewRedisIssuanceLimiter(client redis.UniversalClient, subjectLimit, sourceLimit int, window time.Duration, prefix string) *RedisIssuanceLimiter {
	if prefix == "" {
		prefix = "otp"
	}
	return &RedisIssuanceLimiter{
		client:       client,
		subjectLimit: subjectLimit,
		sourceLimit:  sourceLimit,
		window:       window,
		prefix:       prefix,
	}
}

func (l *RedisIssuanceLimiter) AllowSubject(ctx context.Context, subject string) (bool, error) {
	return l.allow(ctx, fmt.Sprintf("%s:issue:subject:%s", l.prefix, subject), l.subjectLimit)
}

func (l *RedisIssuanceLimiter) AllowSource(ctx context.Context, sourceIP string) (bool, error) {
	if sourceIP == "" {
		return true, nil
	}
	return l.allow(ctx, fmt.Sprintf("%s:issue:ip:%s", l.prefix, sourceIP), l.sourceLimit)
}

func (l *RedisIssuanceLimiter) allow(ctx context.Context, key string, limit int) (bool, error) {
	raw, err := issuanceWindowScript.Run(ctx, l.client, []string{key}, limit, l.window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("issuance limiter: %w", err)
	}
	n, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected limiter result type %T", raw)
	}
	return n == 1, nil
}
