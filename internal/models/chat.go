package models

import "time"

// Message roles for the completion call.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one stored message in a device's history. Turns are
// append-only; retention is handled by the periodic purge job.
type ChatTurn struct {
	ID          int64     `json:"id"`
	DeviceHash  string    `json:"device_hash"`
	MessageText string    `json:"message_text"`
	IsUserTurn  bool      `json:"is_user_message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is one entry of the ordered list sent to the completion
// service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Role maps the stored turn onto a completion message role.
func (t *ChatTurn) Role() string {
	if t.IsUserTurn {
		return RoleUser
	}
	return RoleAssistant
}
