package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gospodapp/backend/internal/models"
)

// Limits is a daily allowance per request kind.
type Limits struct {
	Text  int
	Image int
}

// QuotaUsageRepo is the counter storage the quota service needs.
type QuotaUsageRepo interface {
	GetToday(ctx context.Context, deviceHash string) (*models.UsageRecord, error)
	Increment(ctx context.Context, deviceHash, kind string) (*models.UsageRecord, error)
	Aggregate(ctx context.Context, deviceHash string) (*models.UsageAggregate, error)
}

// QuotaDeviceRepo resolves the device row carrying the premium window.
type QuotaDeviceRepo interface {
	Get(ctx context.Context, deviceHash string) (*models.Device, error)
	Ensure(ctx context.Context, deviceHash string, userName *string) error
}

// QuotaReferralRepo supplies the referral count for the stats payload.
type QuotaReferralRepo interface {
	CountByInviter(ctx context.Context, inviterHash string) (int, error)
}

// QuotaService tracks daily consumption against tier limits. Premium
// status is derived from the device's premium_until at call time, so an
// elapsed window lapses on its own.
type QuotaService struct {
	usage     QuotaUsageRepo
	devices   QuotaDeviceRepo
	referrals QuotaReferralRepo
	free      Limits
	premium   Limits
	now       func() time.Time
}

func NewQuotaService(usage QuotaUsageRepo, devices QuotaDeviceRepo, referrals QuotaReferralRepo, free, premium Limits) *QuotaService {
	return &QuotaService{
		usage:     usage,
		devices:   devices,
		referrals: referrals,
		free:      free,
		premium:   premium,
		now:       time.Now,
	}
}

// IsPremium reports whether the device's premium window covers now.
func (s *QuotaService) IsPremium(ctx context.Context, deviceHash string) (bool, error) {
	d, err := s.devices.Get(ctx, deviceHash)
	if err != nil {
		return false, fmt.Errorf("get device: %w", err)
	}
	return d != nil && d.IsPremiumAt(s.now()), nil
}

// LimitsFor resolves the daily limits applying to the device right now.
func (s *QuotaService) LimitsFor(ctx context.Context, deviceHash string) (Limits, error) {
	premium, err := s.IsPremium(ctx, deviceHash)
	if err != nil {
		return Limits{}, err
	}
	if premium {
		return s.premium, nil
	}
	return s.free, nil
}

// CanMake reports whether the device has daily allowance left for the
// given kind.
func (s *QuotaService) CanMake(ctx context.Context, deviceHash, kind string) (bool, error) {
	limits, err := s.LimitsFor(ctx, deviceHash)
	if err != nil {
		return false, err
	}
	today, err := s.usage.GetToday(ctx, deviceHash)
	if err != nil {
		return false, fmt.Errorf("get today usage: %w", err)
	}
	textCount, imageCount := 0, 0
	if today != nil {
		textCount, imageCount = today.TextCount, today.ImageCount
	}
	switch kind {
	case models.KindText:
		return textCount < limits.Text, nil
	case models.KindImage:
		return imageCount < limits.Image, nil
	}
	return false, fmt.Errorf("unknown usage kind: %s", kind)
}

// Increment charges one request of the given kind to today's counters.
// The underlying write is a single atomic upsert.
func (s *QuotaService) Increment(ctx context.Context, deviceHash, kind string) (*models.UsageRecord, error) {
	return s.usage.Increment(ctx, deviceHash, kind)
}

// EnsureDevice creates the device row on first contact.
func (s *QuotaService) EnsureDevice(ctx context.Context, deviceHash string, userName *string) error {
	return s.devices.Ensure(ctx, deviceHash, userName)
}

// DeletionPending reports whether the device is scheduled for deletion.
func (s *QuotaService) DeletionPending(ctx context.Context, deviceHash string) (bool, error) {
	d, err := s.devices.Get(ctx, deviceHash)
	if err != nil {
		return false, fmt.Errorf("get device: %w", err)
	}
	return d != nil && d.PendingDeletion, nil
}

// Stats assembles the usage-query payload for a device.
func (s *QuotaService) Stats(ctx context.Context, deviceHash string) (*models.UsageStats, error) {
	d, err := s.devices.Get(ctx, deviceHash)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	today, err := s.usage.GetToday(ctx, deviceHash)
	if err != nil {
		return nil, fmt.Errorf("get today usage: %w", err)
	}
	agg, err := s.usage.Aggregate(ctx, deviceHash)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	referralCount, err := s.referrals.CountByInviter(ctx, deviceHash)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}

	stats := &models.UsageStats{
		ReferralCount: referralCount,
		TotalText:     agg.TotalText,
		TotalImage:    agg.TotalImage,
		ActiveDays:    agg.ActiveDays,
	}
	if today != nil {
		stats.TextCount = today.TextCount
		stats.ImageCount = today.ImageCount
		stats.TotalCount = today.TextCount + today.ImageCount
	}
	limits := s.free
	if d != nil {
		stats.UserName = d.UserName
		if d.IsPremiumAt(s.now()) {
			stats.IsPremium = true
			stats.PremiumUntil = d.PremiumUntil
			limits = s.premium
		}
	}
	stats.TextLimit = limits.Text
	stats.ImageLimit = limits.Image
	stats.CanMakeText = stats.TextCount < limits.Text
	stats.CanMakeImage = stats.ImageCount < limits.Image
	return stats, nil
}
