package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/http/response"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/service"
)

type ReceiptHandler struct {
	receipts *service.ReceiptService
	otp      *service.OTPManager
	logger   *slog.Logger
}

func NewReceiptHandler(receipts *service.ReceiptService, otp *service.OTPManager, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts, otp: otp, logger: logger}
}

// Submit handles POST /api/v1/receipts as multipart form data. The buyer's
// one-time code rides along and is verified before anything is stored.
func (h *ReceiptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxWebhookBodyBytes); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "expected multipart form data", nil)
		return
	}
	orderID := strings.TrimSpace(r.FormValue("order_id"))
	subject := strings.TrimSpace(r.FormValue("buyer_subject"))
	code := r.FormValue("otp_code")
	currency := strings.TrimSpace(r.FormValue("currency"))
	if orderID == "" || subject == "" || code == "" || currency == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "order_id, buyer_subject, otp_code and currency are required", nil)
		return
	}
	amount, err := domain.ParseCents(r.FormValue("amount"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid amount", nil)
		return
	}
	orderAmount, err := domain.ParseCents(r.FormValue("order_amount"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid order_amount", nil)
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "receipt artifact is required", nil)
		return
	}
	defer file.Close()

	verify, err := h.otp.Verify(r.Context(), subject, code)
	if err != nil {
		h.logger.Error("receipt submit verify", "subject", subject, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not verify credential", nil)
		return
	}
	if !verify.OK {
		response.Error(w, r, http.StatusUnauthorized, "CREDENTIAL_REJECTED", "credential rejected", map[string]string{"reason": string(verify.Reason)})
		return
	}

	sub, err := h.receipts.Submit(r.Context(), service.SubmitReceiptRequest{
		OrderID:          orderID,
		BuyerSubject:     subject,
		AmountCents:      amount,
		OrderAmountCents: orderAmount,
		Currency:         currency,
		ContentType:      header.Header.Get("Content-Type"),
		ArtifactSize:     header.Size,
		Artifact:         file,
		Verified:         true,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedArtifactType), errors.Is(err, service.ErrArtifactTooLarge):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		default:
			h.logger.Error("receipt submit", "order_id", orderID, "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not process receipt", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusCreated, sub)
}

// Get handles GET /api/v1/receipts/{id}.
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.receipts.FindSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "submission not found", nil)
			return
		}
		h.logger.Error("receipt get", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not load submission", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, sub)
}

// ListByOrder handles GET /api/v1/orders/{orderID}/receipts.
func (h *ReceiptHandler) ListByOrder(w http.ResponseWriter, r *http.Request) {
	subs, err := h.receipts.ListByOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.logger.Error("receipt list by order", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not list submissions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, subs)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Action   string `json:"action"`
}

// Review handles POST /api/v1/receipts/{id}/review.
func (h *ReceiptHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Reviewer) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "reviewer is required", nil)
		return
	}

	sub, err := h.receipts.Review(r.Context(), chi.URLParam(r, "id"), req.Reviewer, service.ReviewAction(req.Action))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSubmissionNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "submission not found", nil)
		case errors.Is(err, service.ErrInvalidReviewAction):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "action must be approve, reject or escalate", nil)
		case errors.Is(err, service.ErrHighValueOverride):
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "high value submissions can only be escalated", nil)
		case errors.Is(err, service.ErrReviewNotAllowed), errors.Is(err, repository.ErrStatusConflict):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "submission is not reviewable", nil)
		default:
			h.logger.Error("receipt review", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not review submission", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, sub)
}
