package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "go-receipt-verification-service"

var (
	metricsOnce       sync.Once
	repoOps           metric.Int64Counter
	credentialEvents  metric.Int64Counter
	webhookAdmissions metric.Int64Counter
	receiptVerdicts   metric.Int64Counter
	escalationEvents  metric.Int64Counter
)

func initCounters() {
	meter := otel.Meter(meterName)
	repoOps, _ = meter.Int64Counter("repository_operations_total")
	credentialEvents, _ = meter.Int64Counter("credential_events_total")
	webhookAdmissions, _ = meter.Int64Counter("webhook_admissions_total")
	receiptVerdicts, _ = meter.Int64Counter("receipt_verdicts_total")
	escalationEvents, _ = meter.Int64Counter("escalation_events_total")
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	metricsOnce.Do(initCounters)
	repoOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordCredentialEvent(ctx context.Context, action, outcome string) {
	metricsOnce.Do(initCounters)
	credentialEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func RecordWebhookAdmission(ctx context.Context, platform, reason string) {
	metricsOnce.Do(initCounters)
	webhookAdmissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("reason", reason),
	))
}

func RecordReceiptVerdict(ctx context.Context, verdict, reason string) {
	metricsOnce.Do(initCounters)
	receiptVerdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
		attribute.String("reason", reason),
	))
}

func RecordEscalationEvent(ctx context.Context, action, outcome string) {
	metricsOnce.Do(initCounters)
	escalationEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}
