package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"go-receipt-verification-service/internal/app"
	"go-receipt-verification-service/internal/config"
	"go-receipt-verification-service/internal/database"
	"go-receipt-verification-service/internal/http/handler"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/router"
	"go-receipt-verification-service/internal/observability"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	observability.NewLogger,
	provideObservabilityRuntime,
)

var RuntimeInfraSet = wire.NewSet(
	provideOpenDB,
	provideRedisClient,
)

var RepositorySet = wire.NewSet(
	repository.NewReceiptSubmissionRepository,
	repository.NewEscalationRepository,
	repository.NewAuditRepository,
	repository.NewWebhookDeliveryRepository,
)

var ServiceSet = wire.NewSet(
	provideCredentialStore,
	provideIssuanceLimiter,
	provideReplayLedger,
	provideOTPNotifier,
	provideOCRClient,
	provideReceiptStorage,
	provideOTPManager,
	provideWebhookGuard,
	provideDecisionPolicy,
	service.NewReceiptService,
	provideEscalationService,
	provideDeliveryLogJanitor,
)

var HTTPSet = wire.NewSet(
	handler.NewWebhookHandler,
	handler.NewOTPHandler,
	handler.NewReceiptHandler,
	handler.NewEscalationHandler,
	handler.NewAuditHandler,
	provideRouterDependencies,
	router.New,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideObservabilityRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	return observability.InitRuntime(context.Background(), cfg, logger)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRedisClient(cfg *config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	client.AddHook(observability.NewRedisMetricsHook())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func provideCredentialStore(client redis.UniversalClient) service.CredentialStore {
	return service.NewRedisCredentialStore(client, "otp")
}

func provideIssuanceLimiter(client redis.UniversalClient, cfg *config.Config) service.IssuanceLimiter {
	return service.NewRedisIssuanceLimiter(client, cfg.OTPIssueLimitPerSubject, cfg.OTPIssueLimitPerIP, cfg.OTPIssueWindow, "otp")
}

func provideReplayLedger(client redis.UniversalClient, cfg *config.Config) service.ReplayLedger {
	return service.NewRedisReplayLedger(client, cfg.WebhookReplayWindow, "webhook")
}

func provideOTPNotifier(cfg *config.Config, logger *slog.Logger) service.OTPNotifier {
	if cfg.DeliveryMode == config.DeliveryModeReal {
		return service.NewHTTPOTPNotifier(cfg.DeliveryEndpoint, 10*time.Second)
	}
	return service.NewDevOTPNotifier(logger)
}

func provideOCRClient(cfg *config.Config) service.OCRClient {
	switch cfg.OCRMode {
	case config.OCRModeReal:
		return service.NewHTTPOCRClient(cfg.OCREndpoint, cfg.OCRTimeout)
	case config.OCRModeDisabled:
		return service.NewDisabledOCRClient()
	default:
		return service.NewStubOCRClient()
	}
}

func provideReceiptStorage(cfg *config.Config) (service.ReceiptStorage, error) {
	if cfg.MinioEndpoint == "" {
		return service.NewNoopReceiptStorage(), nil
	}
	return service.NewMinioReceiptStorage(service.MinioStorageConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
}

func provideOTPManager(
	store service.CredentialStore,
	limiter service.IssuanceLimiter,
	notifier service.OTPNotifier,
	audit repository.AuditRepository,
	logger *slog.Logger,
	cfg *config.Config,
) *service.OTPManager {
	return service.NewOTPManager(store, limiter, notifier, audit, logger, service.OTPManagerConfig{
		TTL:         cfg.OTPTTL,
		ExpiryGrace: cfg.OTPExpiryGrace,
		MaxAttempts: cfg.OTPMaxAttempts,
		Pepper:      cfg.CredentialPepper,
	})
}

func provideWebhookGuard(
	ledger service.ReplayLedger,
	deliveries repository.WebhookDeliveryRepository,
	audit repository.AuditRepository,
	logger *slog.Logger,
	cfg *config.Config,
) (*service.WebhookGuard, error) {
	cidrs, err := service.ParseCIDRs(cfg.WebhookAllowedCIDRs)
	if err != nil {
		return nil, fmt.Errorf("webhook allowed cidrs: %w", err)
	}
	return service.NewWebhookGuard(ledger, deliveries, audit, logger, service.WebhookGuardConfig{
		Secret:          cfg.WebhookSecret,
		FreshnessWindow: cfg.WebhookFreshnessWindow,
		AllowedCIDRs:    cidrs,
	}), nil
}

func provideEscalationService(
	escalations repository.EscalationRepository,
	submissions repository.ReceiptSubmissionRepository,
	otp *service.OTPManager,
	audit repository.AuditRepository,
	logger *slog.Logger,
	cfg *config.Config,
) *service.EscalationService {
	return service.NewEscalationService(escalations, submissions, otp, audit, logger, cfg.ApprovalAuthorities)
}

func provideDeliveryLogJanitor(deliveries repository.WebhookDeliveryRepository, logger *slog.Logger, cfg *config.Config) *service.DeliveryLogJanitor {
	return service.NewDeliveryLogJanitor(deliveries, logger, cfg.WebhookLogRetention)
}

func provideDecisionPolicy(cfg *config.Config) service.DecisionPolicy {
	return service.DecisionPolicy{
		HighValueThresholdCents: cfg.HighValueThresholdCents,
		MinConfidence:           cfg.MinOCRConfidence,
		ToleranceBP:             cfg.AmountToleranceBP,
	}
}

func provideRouterDependencies(
	logger *slog.Logger,
	webhook *handler.WebhookHandler,
	otp *handler.OTPHandler,
	receipts *handler.ReceiptHandler,
	escalations *handler.EscalationHandler,
	audit *handler.AuditHandler,
	client redis.UniversalClient,
	cfg *config.Config,
) (router.Dependencies, error) {
	proxies, err := service.ParseCIDRs(cfg.TrustedProxyCIDRs)
	if err != nil {
		return router.Dependencies{}, fmt.Errorf("trusted proxy cidrs: %w", err)
	}
	return router.Dependencies{
		Logger:          logger,
		Webhook:         webhook,
		OTP:             otp,
		Receipts:        receipts,
		Escalations:     escalations,
		Audit:           audit,
		ClientIP:        middleware.NewClientIPResolver(proxies),
		Limiter:         middleware.NewRedisFixedWindowLimiter(client, "rl"),
		APIRateLimitRPM: cfg.APIRateLimitPerMin,
		OTPRateLimitRPM: cfg.OTPRateLimitPerMin,
	}, nil
}

func provideHTTPServer(cfg *config.Config, r chi.Router) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// MigrationRunner applies the schema and exits; used by the migrate
// subcommand.
type MigrationRunner struct {
	db *gorm.DB
}

func NewMigrationRunner(db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func (m *MigrationRunner) Run() error {
	return database.Migrate(m.db)
}
