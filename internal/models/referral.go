package models

import "time"

// Referral is one credited inviter/invited edge. A pair is inserted at
// most once, and a device may appear as invited at most once
// system-wide; both constraints live in the database schema.
type Referral struct {
	InviterHash string    `json:"inviter_hash"`
	InvitedHash string    `json:"invited_hash"`
	CreatedAt   time.Time `json:"created_at"`
}
