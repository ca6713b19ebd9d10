package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/response"
	"go-receipt-verification-service/internal/service"
)

type OTPHandler struct {
	otp    *service.OTPManager
	logger *slog.Logger
}

func NewOTPHandler(otp *service.OTPManager, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{otp: otp, logger: logger}
}

type issueOTPRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// Issue handles POST /api/v1/otp/issue. The response carries credential
// metadata only; the code travels out of band.
func (h *OTPHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "subject is required", nil)
		return
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	switch role {
	case domain.RoleBuyer, domain.RoleVendor:
	case domain.RoleExecutive:
		// Executive credentials are only minted through the escalation
		// workflow where they get scope-bound.
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "executive credentials are issued per escalation", nil)
		return
	default:
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "role must be buyer or vendor", nil)
		return
	}

	sourceIP := ""
	if addr := middleware.ClientIP(r); addr.IsValid() {
		sourceIP = addr.String()
	}
	issued, err := h.otp.Issue(r.Context(), req.Subject, role, "", sourceIP)
	if err != nil {
		if errors.Is(err, service.ErrIssuanceThrottled) {
			response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "issuance limit reached, try later", nil)
			return
		}
		h.logger.Error("otp issue", "subject", req.Subject, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue credential", nil)
		return
	}
	response.JSON(w, r, http.StatusCreated, issued)
}

type verifyOTPRequest struct {
	Subject string `json:"subject"`
	Code    string `json:"code"`
}

type verifyOTPResponse struct {
	OK           bool   `json:"ok"`
	Reason       string `json:"reason"`
	CredentialID string `json:"credential_id,omitempty"`
}

// Verify handles POST /api/v1/otp/verify.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Subject) == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "subject and code are required", nil)
		return
	}

	res, err := h.otp.Verify(r.Context(), req.Subject, req.Code)
	if err != nil {
		h.logger.Error("otp verify", "subject", req.Subject, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not verify credential", nil)
		return
	}
	if !res.OK {
		if res.Reason == domain.VerifyLockedOut {
			response.Error(w, r, http.StatusLocked, "LOCKED_OUT", "credential locked after repeated failures", verifyOTPResponse{Reason: string(res.Reason)})
			return
		}
		response.Error(w, r, http.StatusUnauthorized, "CREDENTIAL_REJECTED", "credential rejected", verifyOTPResponse{Reason: string(res.Reason)})
		return
	}
	response.JSON(w, r, http.StatusOK, verifyOTPResponse{
		OK:           true,
		Reason:       string(res.Reason),
		CredentialID: res.CredentialID,
	})
}
