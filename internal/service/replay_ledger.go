package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayLedger remembers webhook message ids for the replay window.
// FirstSeen is a test-and-set: only the first caller for a given id within
// the window gets true.
type ReplayLedger interface {
	FirstSeen(ctx context.Context, platform, messageID string) (bool, error)
}

type RedisReplayLedger struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

func NewRedisReplayLedger(client redis.UniversalClient, window time.Duration, prefix string) *RedisReplayLedger {
	if prefix == "" {
		prefix = "webhook"
	}
	return &RedisReplayLedger{client: client, window: window, prefix: prefix}
}

func (l *RedisReplayLedger) FirstSeen(ctx context.Context, platform, messageID string) (bool, error) {
	key := fmt.Sprintf("%s:replay:%s:%s", l.prefix, platform, messageID)
	ok, err := l.client.SetNX(ctx, key, "1", l.window).Result()
	if err != nil {
		return false, fmt.Errorf("replay ledger setnx: %w", err)
	}
	return ok, nil
}
