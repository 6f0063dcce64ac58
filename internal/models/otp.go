package models

import "time"

// Recipient channels for one-time codes
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// OtpCode stores one issued one-time code. Only the bcrypt hash of the
// code is persisted; the plaintext leaves the process exactly once, on
// its way to the mailer/SMS gateway.
type OtpCode struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Recipient   string     `json:"recipient" gorm:"index:idx_otp_recipient,priority:1;not null"`
	Channel     string     `json:"channel" gorm:"index:idx_otp_recipient,priority:2;not null"`
	CodeHash    string     `json:"-" gorm:"not null"`
	AccountID   *int       `json:"account_id"`
	SessionID   *string    `json:"session_id"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index;not null"`
	Attempts    int        `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int        `json:"max_attempts" gorm:"not null"`
	Consumed    bool       `json:"consumed" gorm:"not null;default:false"`
	ConsumedAt  *time.Time `json:"consumed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName specifies the table name for OtpCode
func (OtpCode) TableName() string {
	return "otp_codes"
}

// OtpRateLimit tracks request volume per (recipient, channel) pair in a
// rolling window. One row per pair, reset in place when the window goes
// stale, never deleted.
type OtpRateLimit struct {
	ID           int        `json:"id" gorm:"primaryKey;autoIncrement"`
	Recipient    string     `json:"recipient" gorm:"uniqueIndex:idx_rate_pair,priority:1;not null"`
	Channel      string     `json:"channel" gorm:"uniqueIndex:idx_rate_pair,priority:2;not null"`
	RequestCount int        `json:"request_count" gorm:"not null;default:0"`
	WindowStart  time.Time  `json:"window_start"`
	WindowEnd    time.Time  `json:"window_end"`
	Blocked      bool       `json:"blocked" gorm:"not null;default:false"`
	BlockedUntil *time.Time `json:"blocked_until"`
}

// TableName specifies the table name for OtpRateLimit
func (OtpRateLimit) TableName() string {
	return "otp_rate_limits"
}
