package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gospodapp/backend/internal/models"
	"github.com/gospodapp/backend/internal/services"
)

// QuotaReader serves the usage query endpoint.
type QuotaReader interface {
	Stats(ctx context.Context, deviceHash string) (*models.UsageStats, error)
}

type usageResponse struct {
	Success bool               `json:"success"`
	Stats   *models.UsageStats `json:"stats,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type UsageHandler struct {
	quota QuotaReader
	log   *slog.Logger
}

func NewUsageHandler(quota QuotaReader, log *slog.Logger) *UsageHandler {
	if log == nil {
		log = slog.Default()
	}
	return &UsageHandler{quota: quota, log: log}
}

// GetUsage returns today's counters, limits, premium status and the
// referral count for the device in the hash query parameter.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if err := services.ValidateDeviceHash(hash); err != nil {
		writeUsageError(w, http.StatusBadRequest, "Invalid device hash")
		return
	}
	stats, err := h.quota.Stats(r.Context(), hash)
	if err != nil {
		h.log.Error("usage stats failed", "device", hash, "error", err)
		writeUsageError(w, http.StatusInternalServerError, "Failed to retrieve usage statistics")
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{Success: true, Stats: stats})
}

func writeUsageError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, usageResponse{Success: false, Error: message})
}
