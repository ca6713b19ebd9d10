package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CredentialPepper string
	OTPTTL           time.Duration
	OTPExpiryGrace   time.Duration
	OTPMaxAttempts   int

	OTPIssueLimitPerSubject int
	OTPIssueLimitPerIP      int
	OTPIssueWindow          time.Duration

	WebhookSecret          string
	WebhookFreshnessWindow time.Duration
	WebhookReplayWindow    time.Duration
	WebhookAllowedCIDRs    []string
	TrustedProxyCIDRs      []string

	HighValueThresholdCents int64
	MinOCRConfidence        int
	AmountToleranceBP       int64
	ApprovalAuthorities     []string

	WebhookLogRetention time.Duration

	OCRMode     string
	OCREndpoint string
	OCRTimeout  time.Duration

	DeliveryMode     string
	DeliveryEndpoint string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	APIRateLimitPerMin int
	OTPRateLimitPerMin int

	LogLevel                 string
	OTELTracingEnabled       bool
	OTELMetricsEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELServiceName          string
	OTELEnvironment          string
	OTELTraceSamplingRatio   float64
}

const (
	OCRModeReal     = "real"
	OCRModeStub     = "stub"
	OCRModeDisabled = "disabled"

	DeliveryModeReal = "real"
	DeliveryModeDev  = "dev"
)

func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CredentialPepper: os.Getenv("CREDENTIAL_PEPPER"),
		OTPMaxAttempts:   getEnvInt("OTP_MAX_ATTEMPTS", 3),

		OTPIssueLimitPerSubject: getEnvInt("OTP_ISSUE_LIMIT_PER_SUBJECT", 3),
		OTPIssueLimitPerIP:      getEnvInt("OTP_ISSUE_LIMIT_PER_IP", 10),

		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		WebhookAllowedCIDRs: splitCSV(os.Getenv("WEBHOOK_ALLOWED_CIDRS")),
		TrustedProxyCIDRs:   splitCSV(getEnv("TRUSTED_PROXY_CIDRS", "127.0.0.0/8")),

		HighValueThresholdCents: getEnvInt64("HIGH_VALUE_THRESHOLD_CENTS", 100_000_000),
		MinOCRConfidence:        getEnvInt("MIN_OCR_CONFIDENCE", 75),
		AmountToleranceBP:       getEnvInt64("AMOUNT_TOLERANCE_BP", 200),
		ApprovalAuthorities:     splitCSV(os.Getenv("APPROVAL_AUTHORITIES")),

		OCRMode:     strings.ToLower(getEnv("OCR_MODE", OCRModeStub)),
		OCREndpoint: os.Getenv("OCR_ENDPOINT"),

		DeliveryMode:     strings.ToLower(getEnv("DELIVERY_MODE", DeliveryModeDev)),
		DeliveryEndpoint: os.Getenv("DELIVERY_ENDPOINT"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "receipts"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", true),

		APIRateLimitPerMin: getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
		OTPRateLimitPerMin: getEnvInt("OTP_RATE_LIMIT_PER_MIN", 30),

		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "receipt-verification-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
	}

	var err error
	if cfg.OTPTTL, err = parseDurationEnv("OTP_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.OTPExpiryGrace, err = parseDurationEnv("OTP_EXPIRY_GRACE", "1m"); err != nil {
		return nil, err
	}
	if cfg.OTPIssueWindow, err = parseDurationEnv("OTP_ISSUE_WINDOW", "10m"); err != nil {
		return nil, err
	}
	if cfg.WebhookFreshnessWindow, err = parseDurationEnv("WEBHOOK_FRESHNESS_WINDOW", "5m"); err != nil {
		return nil, err
	}
	if cfg.WebhookReplayWindow, err = parseDurationEnv("WEBHOOK_REPLAY_WINDOW", "5m"); err != nil {
		return nil, err
	}
	if cfg.OCRTimeout, err = parseDurationEnv("OCR_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.WebhookLogRetention, err = parseDurationEnv("WEBHOOK_LOG_RETENTION", "720h"); err != nil {
		return nil, err
	}

	ratio, err := strconv.ParseFloat(getEnv("OTEL_TRACE_SAMPLING_RATIO", "1.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("parse OTEL_TRACE_SAMPLING_RATIO: %w", err)
	}
	cfg.OTELTraceSamplingRatio = ratio

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.WebhookSecret) < 32 {
		errs = append(errs, "WEBHOOK_SECRET must be at least 32 chars")
	}
	if len(c.CredentialPepper) < 16 {
		errs = append(errs, "CREDENTIAL_PEPPER must be at least 16 chars")
	}
	if c.OTPTTL <= 0 || c.OTPTTL > time.Hour {
		errs = append(errs, "OTP_TTL must be between 1s and 1h")
	}
	if c.OTPMaxAttempts <= 0 || c.OTPMaxAttempts > 10 {
		errs = append(errs, "OTP_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.OTPIssueLimitPerSubject <= 0 || c.OTPIssueLimitPerIP <= 0 {
		errs = append(errs, "OTP issuance limits must be > 0")
	}
	if c.WebhookFreshnessWindow <= 0 || c.WebhookReplayWindow <= 0 {
		errs = append(errs, "webhook windows must be > 0")
	}
	if c.HighValueThresholdCents <= 0 {
		errs = append(errs, "HIGH_VALUE_THRESHOLD_CENTS must be > 0")
	}
	if c.MinOCRConfidence < 0 || c.MinOCRConfidence > 100 {
		errs = append(errs, "MIN_OCR_CONFIDENCE must be between 0 and 100")
	}
	if c.AmountToleranceBP < 0 || c.AmountToleranceBP > 10_000 {
		errs = append(errs, "AMOUNT_TOLERANCE_BP must be between 0 and 10000")
	}
	if c.WebhookLogRetention <= 0 {
		errs = append(errs, "WEBHOOK_LOG_RETENTION must be > 0")
	}
	switch c.OCRMode {
	case OCRModeReal:
		if c.OCREndpoint == "" {
			errs = append(errs, "OCR_ENDPOINT is required when OCR_MODE=real")
		}
	case OCRModeStub, OCRModeDisabled:
	default:
		errs = append(errs, "OCR_MODE must be real, stub or disabled")
	}
	switch c.DeliveryMode {
	case DeliveryModeReal:
		if c.DeliveryEndpoint == "" {
			errs = append(errs, "DELIVERY_ENDPOINT is required when DELIVERY_MODE=real")
		}
	case DeliveryModeDev:
	default:
		errs = append(errs, "DELIVERY_MODE must be real or dev")
	}
	if c.APIRateLimitPerMin <= 0 || c.OTPRateLimitPerMin <= 0 {
		errs = append(errs, "rate limits must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func parseDurationEnv(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
