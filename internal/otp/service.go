package otp

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/nordkyn/authcore/internal/account"
	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
)

// dummyHash keeps verification work constant when no code exists for a
// recipient, so response timing does not reveal recipient existence.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("000000-dummy-code"), bcrypt.DefaultCost)

// Service generates, stores and verifies one-time codes
type Service struct {
	db       *gorm.DB
	limiter  *RateLimiter
	accounts *account.Resolver
	cfg      config.OTPConfig
}

// NewService creates a new OTP service
func NewService(db *gorm.DB, limiter *RateLimiter, accounts *account.Resolver, cfg config.OTPConfig) *Service {
	return &Service{db: db, limiter: limiter, accounts: accounts, cfg: cfg}
}

// GenerateResult carries an issued code. Code is the plaintext, handed
// to the caller for out-of-band delivery only; it is never stored or
// logged.
type GenerateResult struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// Generate issues a new code for the recipient after consulting the
// rate limiter. Email recipients are resolved to an account up front so
// verification can report who logged in.
func (s *Service) Generate(ctx context.Context, recipient, channel string, sessionID *string) (*GenerateResult, error) {
	if err := s.limiter.CheckAndRecord(ctx, recipient, channel); err != nil {
		return nil, err
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	var accountID *int
	if channel == models.ChannelEmail {
		acct, err := s.accounts.FindOrCreate(ctx, recipient)
		if err != nil {
			return nil, err
		}
		accountID = &acct.ID
	}

	row := models.OtpCode{
		ID:          uuid.NewString(),
		Recipient:   recipient,
		Channel:     channel,
		CodeHash:    string(hash),
		AccountID:   accountID,
		SessionID:   sessionID,
		ExpiresAt:   time.Now().Add(s.cfg.Expiration),
		MaxAttempts: s.cfg.MaxAttempts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to store code: %w", err)
	}

	log.Printf("OTP: issued code %s via %s, expires %s", row.ID, channel, row.ExpiresAt.Format(time.RFC3339))

	return &GenerateResult{ID: row.ID, Code: code, ExpiresAt: row.ExpiresAt}, nil
}

// VerifyResult identifies the consumed code and the identity linked to it
type VerifyResult struct {
	OtpID     string
	AccountID *int
	SessionID *string
}

// Verify checks a submitted code against every outstanding unconsumed,
// unexpired code for the recipient, most recently issued first. Trying
// all outstanding codes tolerates a user re-requesting a code and then
// entering an older message. The attempt counter is persisted before
// the hash comparison so a crash mid-verify still burns the attempt,
// and it is per code: exhausting one code does not invalidate another.
func (s *Service) Verify(ctx context.Context, recipient, channel, submitted string) (*VerifyResult, error) {
	now := time.Now()

	var rows []models.OtpCode
	err := s.db.WithContext(ctx).
		Where("recipient = ? AND channel = ? AND consumed = ? AND expires_at > ?", recipient, channel, false, now).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query codes: %w", err)
	}

	if len(rows) == 0 {
		// Burn the same hashing work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(submitted))
		return nil, newError(ErrNotFound, "no active code for this recipient")
	}

	exhausted, compared := 0, 0
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.Attempts >= row.MaxAttempts {
			exhausted++
			continue
		}
		if !now.Before(row.ExpiresAt) {
			continue
		}

		// Count the attempt before comparing.
		if err := s.db.WithContext(ctx).
			Model(&models.OtpCode{}).
			Where("id = ?", row.ID).
			Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return nil, fmt.Errorf("failed to record attempt: %w", err)
		}
		compared++

		if bcrypt.CompareHashAndPassword([]byte(row.CodeHash), []byte(submitted)) != nil {
			continue
		}

		res := s.db.WithContext(ctx).
			Model(&models.OtpCode{}).
			Where("id = ? AND consumed = ?", row.ID, false).
			Updates(map[string]any{"consumed": true, "consumed_at": now})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to consume code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// A concurrent verify got there first.
			return nil, newError(ErrAlreadyConsumed, "code already used")
		}

		log.Printf("OTP: code %s verified for %s channel", row.ID, channel)
		return &VerifyResult{OtpID: row.ID, AccountID: row.AccountID, SessionID: row.SessionID}, nil
	}

	if compared == 0 {
		if exhausted > 0 {
			return nil, newError(ErrMaxAttempts, "too many failed attempts for this code, request a new one")
		}
		return nil, newError(ErrExpired, "code expired, request a new one")
	}
	return nil, newError(ErrInvalidCode, "incorrect code")
}

// CleanupExpired deletes codes past their expiry and returns how many
// rows were removed. Safe to run concurrently with issuance and
// verification; it only touches rows already past expires_at.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.OtpCode{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}
