package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/response"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/service"
)

type EscalationHandler struct {
	escalations *service.EscalationService
	logger      *slog.Logger
}

func NewEscalationHandler(escalations *service.EscalationService, logger *slog.Logger) *EscalationHandler {
	return &EscalationHandler{escalations: escalations, logger: logger}
}

type requestCredentialRequest struct {
	Authority string `json:"authority"`
}

// RequestCredential handles POST /api/v1/escalations/{id}/credential.
func (h *EscalationHandler) RequestCredential(w http.ResponseWriter, r *http.Request) {
	var req requestCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Authority) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "authority is required", nil)
		return
	}

	sourceIP := ""
	if addr := middleware.ClientIP(r); addr.IsValid() {
		sourceIP = addr.String()
	}
	issued, err := h.escalations.RequestApprovalCredential(r.Context(), chi.URLParam(r, "id"), req.Authority, sourceIP)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorizedAuthority):
			response.Error(w, r, http.StatusForbidden, "UNAUTHORIZED", "authority is not permitted to resolve escalations", nil)
		case errors.Is(err, repository.ErrEscalationNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "escalation not found", nil)
		case errors.Is(err, service.ErrEscalationResolved):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "escalation already resolved", nil)
		case errors.Is(err, service.ErrIssuanceThrottled):
			response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "issuance limit reached, try later", nil)
		default:
			h.logger.Error("escalation credential", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue credential", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusCreated, issued)
}

type resolveRequest struct {
	Authority  string `json:"authority"`
	Code       string `json:"code"`
	Resolution string `json:"resolution"`
}

// Resolve handles POST /api/v1/escalations/{id}/resolve.
func (h *EscalationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Authority) == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "authority and code are required", nil)
		return
	}

	resolved, verify, err := h.escalations.Resolve(
		r.Context(),
		chi.URLParam(r, "id"),
		req.Authority,
		req.Code,
		domain.EscalationResolution(strings.ToLower(req.Resolution)),
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResolution):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "resolution must be approved or rejected", nil)
		case errors.Is(err, service.ErrUnauthorizedAuthority):
			response.Error(w, r, http.StatusForbidden, "UNAUTHORIZED", "authority is not permitted to resolve escalations", nil)
		case errors.Is(err, repository.ErrEscalationNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "escalation not found", nil)
		case errors.Is(err, service.ErrEscalationResolved), errors.Is(err, repository.ErrAlreadyResolved):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "escalation already resolved", nil)
		case errors.Is(err, service.ErrCredentialScopeMismatch):
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "credential was not issued for this escalation", nil)
		case errors.Is(err, service.ErrCredentialRejected):
			if verify.Reason == domain.VerifyLockedOut {
				response.Error(w, r, http.StatusLocked, "LOCKED_OUT", "credential locked after repeated failures", nil)
				return
			}
			response.Error(w, r, http.StatusUnauthorized, "CREDENTIAL_REJECTED", "credential rejected", map[string]string{"reason": string(verify.Reason)})
		default:
			h.logger.Error("escalation resolve", "error", err)
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not resolve escalation", nil)
		}
		return
	}
	response.JSON(w, r, http.StatusOK, resolved)
}

// Get handles GET /api/v1/escalations/{id}.
func (h *EscalationHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.escalations.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrEscalationNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "escalation not found", nil)
			return
		}
		h.logger.Error("escalation get", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not load escalation", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, req)
}
