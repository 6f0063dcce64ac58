// Package testutil provides shared test helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
)

// NewTestDB creates an in-memory SQLite database with the auth schema.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A pooled second connection would see its own empty :memory: database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.OtpCode{}, &models.OtpRateLimit{}))

	return db
}

// OTPConfig returns the reference OTP settings used across tests.
func OTPConfig() config.OTPConfig {
	return config.OTPConfig{
		CodeLength:           6,
		Expiration:           10 * time.Minute,
		MaxAttempts:          5,
		MaxRequestsPerWindow: 5,
		Window:               60 * time.Minute,
		BlockDuration:        60 * time.Minute,
	}
}

// SessionConfig returns session settings used across tests.
func SessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CookieName:     "authcore_session",
		Lifetime:       12 * time.Hour,
		LandingPath:    "/admin",
		ErrorPath:      "/admin/login",
		OAuthErrorPath: "/login",
	}
}

// CookieConfig returns deterministic cookie keys for tests.
func CookieConfig() config.CookieConfig {
	return config.CookieConfig{
		HashKey:  []byte("0123456789abcdef0123456789abcdef"),
		BlockKey: []byte("fedcba9876543210fedcba9876543210"),
	}
}
