package models

import (
	"time"

	"github.com/google/uuid"
)

// Security event types recorded for operator diagnostics.
const (
	EventBypassAttempt = "bypass_attempt"
	EventBadAPIKey     = "bad_api_key"
)

// SecurityEvent is a fire-and-forget diagnostic record. Recording one
// must never fail the request that produced it.
type SecurityEvent struct {
	ID         uuid.UUID `json:"id"`
	DeviceHash string    `json:"device_hash"`
	EventType  string    `json:"event_type"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
}
