package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gospodapp/backend/internal/services"
)

// DeletionScheduler marks a device for deletion after a grace period.
type DeletionScheduler interface {
	ScheduleDeletion(ctx context.Context, deviceHash string, graceDays int) error
}

// ReferralProcessor registers an inviter/invited pair directly, for the
// client flow that reports the referral before the first chat request.
type ReferralProcessor interface {
	Process(ctx context.Context, inviterHash, invitedHash string) (bool, error)
}

type deleteRequest struct {
	DeviceHash string `json:"device_hash"`
}

type referralRequest struct {
	InviterHash string `json:"inviter_hash"`
	DeviceHash  string `json:"device_hash"`
}

type simpleResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Rewarded *bool  `json:"rewarded,omitempty"`
	Error    string `json:"error,omitempty"`
}

type DeviceHandler struct {
	devices   DeletionScheduler
	referrals ReferralProcessor
	graceDays int
	log       *slog.Logger
}

func NewDeviceHandler(devices DeletionScheduler, referrals ReferralProcessor, graceDays int, log *slog.Logger) *DeviceHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DeviceHandler{devices: devices, referrals: referrals, graceDays: graceDays, log: log}
}

// RequestDelete schedules the device's data for removal once the grace
// period elapses. The purge itself runs in the retention job.
func (h *DeviceHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, simpleResponse{Success: false, Error: "device_hash required"})
		return
	}
	if err := services.ValidateDeviceHash(req.DeviceHash); err != nil {
		writeJSON(w, http.StatusBadRequest, simpleResponse{Success: false, Error: "device_hash required"})
		return
	}
	if err := h.devices.ScheduleDeletion(r.Context(), req.DeviceHash, h.graceDays); err != nil {
		h.log.Error("schedule deletion failed", "device", req.DeviceHash, "error", err)
		writeJSON(w, http.StatusInternalServerError, simpleResponse{Success: false, Error: "Service unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, simpleResponse{Success: true, Message: "Deletion scheduled"})
}

// RegisterReferral credits the pair outside the chat flow. The response
// carries whether the reward landed; duplicates come back rewarded
// false with a 200, the same as the chat path.
func (h *DeviceHandler) RegisterReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, simpleResponse{Success: false, Error: "invalid JSON body"})
		return
	}
	rewarded, err := h.referrals.Process(r.Context(), req.InviterHash, req.DeviceHash)
	if err != nil {
		h.log.Error("referral registration failed", "inviter", req.InviterHash, "invited", req.DeviceHash, "error", err)
		writeJSON(w, http.StatusInternalServerError, simpleResponse{Success: false, Error: "Service unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, simpleResponse{Success: true, Rewarded: &rewarded})
}
