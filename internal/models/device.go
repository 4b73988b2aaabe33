package models

import "time"

// Request kinds tracked against the daily quota.
const (
	KindText  = "text"
	KindImage = "image"
)

// Device is one client installation, identified by an opaque hash.
// There are no user accounts; the hash is the only identity.
type Device struct {
	DeviceHash      string     `json:"device_hash"`
	UserName        *string    `json:"user_name,omitempty"`
	PremiumUntil    *time.Time `json:"premium_until,omitempty"`
	PendingDeletion bool       `json:"pending_deletion"`
	DeletionDueAt   *time.Time `json:"deletion_due_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// IsPremiumAt reports whether the device's premium window covers t.
// Premium is always resolved against a clock, never cached, so an
// elapsed window lapses without an explicit deactivation step.
func (d *Device) IsPremiumAt(t time.Time) bool {
	return d.PremiumUntil != nil && d.PremiumUntil.After(t)
}

// UsageRecord is the per-device per-day counter row. At most one row
// exists per (device_hash, date); counters only ever increase.
type UsageRecord struct {
	DeviceHash  string    `json:"device_hash"`
	Date        time.Time `json:"date"`
	TextCount   int       `json:"text_count"`
	ImageCount  int       `json:"image_count"`
	LastRequest time.Time `json:"last_request"`
	CreatedAt   time.Time `json:"created_at"`
}

// UsageAggregate summarizes a device's lifetime consumption.
type UsageAggregate struct {
	TotalText  int `json:"total_text"`
	TotalImage int `json:"total_image"`
	ActiveDays int `json:"active_days"`
}

// UsageStats is the payload of the usage query endpoint.
type UsageStats struct {
	TotalCount    int        `json:"total_count"`
	TextCount     int        `json:"text_count"`
	ImageCount    int        `json:"image_count"`
	TextLimit     int        `json:"text_limit"`
	ImageLimit    int        `json:"image_limit"`
	CanMakeText   bool       `json:"can_make_text"`
	CanMakeImage  bool       `json:"can_make_image"`
	IsPremium     bool       `json:"premium"`
	PremiumUntil  *time.Time `json:"premium_until,omitempty"`
	UserName      *string    `json:"user_name,omitempty"`
	ReferralCount int        `json:"referral_count"`
	TotalText     int        `json:"total_text"`
	TotalImage    int        `json:"total_image"`
	ActiveDays    int        `json:"active_days"`
}
