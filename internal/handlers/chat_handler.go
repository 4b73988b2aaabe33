package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gospodapp/backend/internal/middleware"
	"github.com/gospodapp/backend/internal/models"
	"github.com/gospodapp/backend/internal/services"
)

// Orchestrator is the request pipeline the chat endpoints delegate to.
type Orchestrator interface {
	Handle(ctx context.Context, req services.ChatRequest) (*services.ChatResponse, error)
}

// Request/response bodies use snake_case JSON, matching the app client.

type chatTextRequest struct {
	DeviceHash string  `json:"device_hash"`
	Message    string  `json:"message"`
	RefCode    string  `json:"ref_code,omitempty"`
	UserName   *string `json:"user_name,omitempty"`
}

type chatImageRequest struct {
	DeviceHash string  `json:"device_hash"`
	Image      string  `json:"image"`
	Message    string  `json:"message,omitempty"`
	RefCode    string  `json:"ref_code,omitempty"`
	UserName   *string `json:"user_name,omitempty"`
}

type chatResponseBody struct {
	Success        bool   `json:"success"`
	Response       string `json:"response,omitempty"`
	ReferralReward *bool  `json:"referral_reward,omitempty"`
	Error          string `json:"error,omitempty"`
}

type ChatHandler struct {
	orchestrator Orchestrator
	log          *slog.Logger
}

func NewChatHandler(orchestrator Orchestrator, log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{orchestrator: orchestrator, log: log}
}

func (h *ChatHandler) ProcessText(w http.ResponseWriter, r *http.Request) {
	var req chatTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Date lipsă: Mesajul sau hash-ul dispozitivului nu au fost primite")
		return
	}
	h.process(w, r, services.ChatRequest{
		DeviceHash: req.DeviceHash,
		Kind:       models.KindText,
		Message:    req.Message,
		RefCode:    req.RefCode,
		UserName:   req.UserName,
		ClientIP:   middleware.ClientIP(r),
	})
}

func (h *ChatHandler) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var req chatImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Date lipsă: Imaginea nu a fost primită")
		return
	}
	h.process(w, r, services.ChatRequest{
		DeviceHash:  req.DeviceHash,
		Kind:        models.KindImage,
		ImageBase64: req.Image,
		Message:     req.Message,
		RefCode:     req.RefCode,
		UserName:    req.UserName,
		ClientIP:    middleware.ClientIP(r),
	})
}

func (h *ChatHandler) process(w http.ResponseWriter, r *http.Request, req services.ChatRequest) {
	resp, err := h.orchestrator.Handle(r.Context(), req)
	if err != nil {
		var reqErr *services.RequestError
		if errors.As(err, &reqErr) {
			writeError(w, reqErr.Status, reqErr.Message)
			return
		}
		h.log.Error("chat request failed", "device", req.DeviceHash, "error", err)
		writeError(w, http.StatusInternalServerError, services.ErrInternal.Message)
		return
	}
	writeJSON(w, http.StatusOK, chatResponseBody{
		Success:        true,
		Response:       resp.Text,
		ReferralReward: resp.ReferralReward,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, chatResponseBody{Success: false, Error: message})
}
