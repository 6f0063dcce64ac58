package otp

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
)

// RateLimiter enforces a per-(recipient, channel) request budget inside
// a rolling window, with a temporary lockout once the budget is spent.
type RateLimiter struct {
	db            *gorm.DB
	maxRequests   int
	window        time.Duration
	blockDuration time.Duration
}

// NewRateLimiter creates a rate limiter backed by the otp_rate_limits table
func NewRateLimiter(db *gorm.DB, cfg config.OTPConfig) *RateLimiter {
	return &RateLimiter{
		db:            db,
		maxRequests:   cfg.MaxRequestsPerWindow,
		window:        cfg.Window,
		blockDuration: cfg.BlockDuration,
	}
}

// CheckAndRecord records one request for the pair and returns nil when
// it is within budget, ErrBlocked while a lockout is active, and
// ErrRateLimited on the request that exhausts the budget. The in-window
// increment is a single conditional UPDATE, so two concurrent requests
// cannot both consume the same slot.
func (l *RateLimiter) CheckAndRecord(ctx context.Context, recipient, channel string) error {
	now := time.Now()

	var row models.OtpRateLimit
	err := l.db.WithContext(ctx).
		Where("recipient = ? AND channel = ?", recipient, channel).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.OtpRateLimit{
			Recipient:    recipient,
			Channel:      channel,
			RequestCount: 1,
			WindowStart:  now,
			WindowEnd:    now.Add(l.window),
		}
		err = l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		// Lost the insert race; the row exists now, fall through to the
		// update path against the winner's row.
		if err := l.db.WithContext(ctx).
			Where("recipient = ? AND channel = ?", recipient, channel).
			First(&row).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if row.Blocked && row.BlockedUntil != nil && now.Before(*row.BlockedUntil) {
		remaining := int(math.Ceil(row.BlockedUntil.Sub(now).Minutes()))
		return newError(ErrBlocked, "too many requests, try again in %d minutes", remaining)
	}

	if !now.Before(row.WindowEnd) {
		// Stale window: reset in place and count this request.
		return l.db.WithContext(ctx).
			Model(&models.OtpRateLimit{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"request_count": 1,
				"window_start":  now,
				"window_end":    now.Add(l.window),
				"blocked":       false,
				"blocked_until": nil,
			}).Error
	}

	res := l.db.WithContext(ctx).
		Model(&models.OtpRateLimit{}).
		Where("id = ? AND request_count < ? AND window_end > ?", row.ID, l.maxRequests, now).
		Update("request_count", gorm.Expr("request_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Budget spent: start the lockout.
	blockedUntil := now.Add(l.blockDuration)
	if err := l.db.WithContext(ctx).
		Model(&models.OtpRateLimit{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"blocked": true, "blocked_until": blockedUntil}).Error; err != nil {
		return err
	}

	log.Printf("OTP: rate limit exceeded for %s/%s, blocked until %s", recipient, channel, blockedUntil.Format(time.RFC3339))
	return newError(ErrRateLimited, "rate limit exceeded, blocked for %d minutes", int(l.blockDuration.Minutes()))
}
