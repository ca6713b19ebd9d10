package service

import (
	"context"
	"log/slog"
	"time"

	"go-receipt-verification-service/internal/repository"
)

const (
	janitorSweepInterval = time.Hour
	janitorBatchSize     = 1000
)

// DeliveryLogJanitor bounds the webhook delivery log to the configured
// retention window. It deletes in batches so a long backlog never holds a
// large transaction open.
type DeliveryLogJanitor struct {
	deliveries repository.WebhookDeliveryRepository
	logger     *slog.Logger
	retention  time.Duration
	interval   time.Duration
	now        func() time.Time
}

func NewDeliveryLogJanitor(deliveries repository.WebhookDeliveryRepository, logger *slog.Logger, retention time.Duration) *DeliveryLogJanitor {
	return &DeliveryLogJanitor{
		deliveries: deliveries,
		logger:     logger,
		retention:  retention,
		interval:   janitorSweepInterval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once at startup and then on every tick until the context is
// cancelled.
func (j *DeliveryLogJanitor) Run(ctx context.Context) {
	j.sweepAndLog(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepAndLog(ctx)
		}
	}
}

// Sweep removes every delivery row older than the retention window and
// returns how many rows went.
func (j *DeliveryLogJanitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	var total int64
	for {
		n, err := j.deliveries.PruneOlderThan(ctx, cutoff, janitorBatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < janitorBatchSize {
			return total, nil
		}
	}
}

func (j *DeliveryLogJanitor) sweepAndLog(ctx context.Context) {
	pruned, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("prune webhook delivery log", "error", err)
		return
	}
	if pruned > 0 {
		j.logger.Info("webhook delivery log pruned", "rows", pruned, "retention", j.retention.String())
	}
}
