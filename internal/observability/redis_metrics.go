package observability

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	redisMetricsOnce sync.Once
	redisCmdDuration metric.Float64Histogram
	redisCmdErrors   metric.Int64Counter
	redisKeyspace    metric.Int64Counter
)

func initRedisMetrics() {
	meter := otel.Meter(meterName)
	redisCmdDuration, _ = meter.Float64Histogram("redis_command_duration_seconds")
	redisCmdErrors, _ = meter.Int64Counter("redis_command_errors_total")
	redisKeyspace, _ = meter.Int64Counter("redis_keyspace_lookups_total")
}

// MetricsHook instruments every redis command issued by the credential
// store, replay ledger and rate limiter.
type MetricsHook struct{}

func NewRedisMetricsHook() *MetricsHook {
	redisMetricsOnce.Do(initRedisMetrics)
	return &MetricsHook{}
}

func (h *MetricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *MetricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(attribute.String("command", cmd.Name()))
		redisCmdDuration.Record(ctx, elapsed, attrs)

		if err != nil && !errors.Is(err, redis.Nil) {
			redisCmdErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("command", cmd.Name()),
				attribute.String("class", classifyRedisError(err)),
			))
		}
		if hits, misses, ok := classifyKeyspaceOutcome(cmd); ok {
			redisKeyspace.Add(ctx, hits, metric.WithAttributes(attribute.String("outcome", "hit")))
			redisKeyspace.Add(ctx, misses, metric.WithAttributes(attribute.String("outcome", "miss")))
		}
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

// classifyKeyspaceOutcome inspects read commands for hit/miss accounting.
// Returns ok=false for commands that are not keyspace lookups.
func classifyKeyspaceOutcome(cmd redis.Cmder) (hits, misses int64, ok bool) {
	switch strings.ToLower(cmd.Name()) {
	case "get", "hget", "getdel":
		if errors.Is(cmd.Err(), redis.Nil) {
			return 0, 1, true
		}
		if cmd.Err() == nil {
			return 1, 0, true
		}
		return 0, 0, false
	case "mget":
		slice, isSlice := cmd.(*redis.SliceCmd)
		if !isSlice || cmd.Err() != nil {
			return 0, 0, false
		}
		for _, v := range slice.Val() {
			if v == nil {
				misses++
			} else {
				hits++
			}
		}
		return hits, misses, true
	default:
		return 0, 0, false
	}
}

func classifyRedisError(err error) string {
	if err == nil {
		return "none"
	}
	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(), strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "refused"):
		return "connection"
	default:
		return "other"
	}
}
