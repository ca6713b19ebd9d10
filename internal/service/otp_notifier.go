package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-receipt-verification-service/internal/domain"
)

// OTPNotifier hands a freshly issued plaintext code to the out-of-band
// channel. The notifier is the only component that ever sees the plaintext
// after issuance; the manager stores just the digest.
type OTPNotifier interface {
	Deliver(ctx context.Context, subject string, role domain.Role, code string, expiresAt time.Time) error
}

// DevOTPNotifier writes the code to the log. Development only; the channel
// owns the plaintext, so the manager itself never logs it.
type DevOTPNotifier struct {
	logger *slog.Logger
}

func NewDevOTPNotifier(logger *slog.Logger) *DevOTPNotifier {
	return &DevOTPNotifier{logger: logger}
}

func (n *DevOTPNotifier) Deliver(_ context.Context, subject string, role domain.Role, code string, expiresAt time.Time) error {
	n.logger.Info("otp issued (dev delivery)",
		"subject", subject,
		"role", string(role),
		"code", code,
		"expires_at", expiresAt.Format(time.RFC3339),
	)
	return nil
}

// HTTPOTPNotifier posts the code to the delivery gateway that relays it over
// the configured out-of-band transport (chat DM, SMS, email).
type HTTPOTPNotifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPOTPNotifier(endpoint string, timeout time.Duration) *HTTPOTPNotifier {
	return &HTTPOTPNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type otpDeliveryPayload struct {
	Subject   string `json:"subject"`
	Role      string `json:"role"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

func (n *HTTPOTPNotifier) Deliver(ctx context.Context, subject string, role domain.Role, code string, expiresAt time.Time) error {
	body, err := json.Marshal(otpDeliveryPayload{
		Subject:   subject,
		Role:      string(role),
		Code:      code,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver otp: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery gateway returned %d", resp.StatusCode)
	}
	return nil
}
