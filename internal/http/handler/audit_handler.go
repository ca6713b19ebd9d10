package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"go-receipt-verification-service/internal/http/response"
	"go-receipt-verification-service/internal/repository"
)

type AuditHandler struct {
	audit  repository.AuditRepository
	logger *slog.Logger
}

func NewAuditHandler(audit repository.AuditRepository, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// List handles GET /api/v1/audit for forensic replay, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := repository.PageRequest{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.audit.List(r.Context(), page)
	if err != nil {
		h.logger.Error("audit list", "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not list audit entries", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       result.Items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
