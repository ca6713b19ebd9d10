package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/response"
	"go-receipt-verification-service/internal/service"
)

const maxWebhookBodyBytes = 1 << 20

// WebhookHandler is the single ingress for third-party platform callbacks.
// Whatever the guard decides, the upstream always sees a generic 200 so a
// probing attacker learns nothing about which check tripped.
type WebhookHandler struct {
	guard    *service.WebhookGuard
	otp      *service.OTPManager
	receipts *service.ReceiptService
	logger   *slog.Logger
}

func NewWebhookHandler(guard *service.WebhookGuard, otp *service.OTPManager, receipts *service.ReceiptService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{guard: guard, otp: otp, receipts: receipts, logger: logger}
}

type webhookEvent struct {
	Event       string `json:"event"`
	Subject     string `json:"subject"`
	Code        string `json:"code,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	OrderAmount string `json:"order_amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ArtifactB64 string `json:"artifact_b64,omitempty"`
}

// Receive handles POST /webhooks/{platform}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil || len(body) > maxWebhookBodyBytes {
		h.acknowledge(w, r)
		return
	}

	delivery := service.WebhookDelivery{
		Platform:  platform,
		MessageID: r.Header.Get("X-Webhook-Message-Id"),
		Signature: r.Header.Get("X-Webhook-Signature"),
		Timestamp: parseWebhookTimestamp(r.Header.Get("X-Webhook-Timestamp")),
		SourceIP:  middleware.ClientIP(r),
		RawBody:   body,
	}

	res, err := h.guard.Admit(r.Context(), delivery)
	if err != nil {
		h.logger.Error("webhook admission", "platform", platform, "error", err)
		h.acknowledge(w, r)
		return
	}
	if res.OK {
		h.dispatch(r, platform, body)
	}
	h.acknowledge(w, r)
}

// acknowledge is the only webhook response shape. Integrity failures and
// successes are indistinguishable from outside.
func (h *WebhookHandler) acknowledge(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) dispatch(r *http.Request, platform string, body []byte) {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("webhook payload undecodable", "platform", platform, "error", err)
		return
	}
	ctx := r.Context()
	switch event.Event {
	case "otp.verify":
		if _, err := h.otp.Verify(ctx, event.Subject, event.Code); err != nil {
			h.logger.Error("webhook otp verify", "platform", platform, "error", err)
		}
	case "receipt.submitted":
		h.submitFromEvent(r, platform, event)
	default:
		h.logger.Warn("webhook event ignored", "platform", platform, "event", event.Event)
	}
}

// submitFromEvent runs the chat-side submission flow: the platform relays
// the buyer's one-time code together with the receipt artifact, so the
// submission only proceeds on a fresh successful verification.
func (h *WebhookHandler) submitFromEvent(r *http.Request, platform string, event webhookEvent) {
	ctx := r.Context()
	verify, err := h.otp.Verify(ctx, event.Subject, event.Code)
	if err != nil {
		h.logger.Error("webhook receipt verify", "platform", platform, "error", err)
		return
	}
	if !verify.OK {
		h.logger.Warn("webhook receipt submission refused",
			"platform", platform,
			"subject", event.Subject,
			"reason", string(verify.Reason),
		)
		return
	}

	amount, err := domain.ParseCents(event.Amount)
	if err != nil {
		h.logger.Warn("webhook receipt amount invalid", "platform", platform, "error", err)
		return
	}
	orderAmount, err := domain.ParseCents(event.OrderAmount)
	if err != nil {
		h.logger.Warn("webhook order amount invalid", "platform", platform, "error", err)
		return
	}
	artifact, err := base64.StdEncoding.DecodeString(event.ArtifactB64)
	if err != nil || len(artifact) == 0 {
		h.logger.Warn("webhook artifact invalid", "platform", platform, "error", err)
		return
	}

	sub, err := h.receipts.Submit(ctx, service.SubmitReceiptRequest{
		OrderID:          event.OrderID,
		BuyerSubject:     event.Subject,
		AmountCents:      amount,
		OrderAmountCents: orderAmount,
		Currency:         event.Currency,
		ContentType:      event.ContentType,
		ArtifactSize:     int64(len(artifact)),
		Artifact:         bytes.NewReader(artifact),
		Verified:         true,
	})
	if err != nil {
		h.logger.Error("webhook receipt submit", "platform", platform, "error", err)
		return
	}
	h.logger.Info("webhook receipt processed",
		"platform", platform,
		"submission_id", sub.ID,
		"status", string(sub.Status),
	)
}

func parseWebhookTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
