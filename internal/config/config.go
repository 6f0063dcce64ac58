package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
)

// Config holds application configuration
type Config struct {
	Port        int
	Environment string
	Database    DatabaseConfig
	JWTSecret   string
	CORSOrigins []string
	Session     SessionConfig
	Cookies     CookieConfig
	OTP         OTPConfig
	Vipps       *VippsConfig
	SMTP        *SMTPConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SessionConfig holds session issuance configuration
type SessionConfig struct {
	CookieName     string
	Lifetime       time.Duration
	LandingPath    string // where a fresh session lands
	ErrorPath      string // where failed session creation lands
	OAuthErrorPath string // where failed OAuth callbacks land
}

// CookieConfig holds the keys for the encrypted pending-session cookie
type CookieConfig struct {
	HashKey  []byte
	BlockKey []byte
}

// OTPConfig holds one-time-code configuration
type OTPConfig struct {
	CodeLength           int
	Expiration           time.Duration
	MaxAttempts          int
	MaxRequestsPerWindow int
	Window               time.Duration
	BlockDuration        time.Duration
}

// VippsConfig holds the federated login provider configuration
type VippsConfig struct {
	Enabled         bool
	Issuer          string
	ClientID        string
	ClientSecret    string
	SubscriptionKey string
	MerchantSerial  string
	RedirectURL     string
	Scopes          []string
}

// SMTPConfig holds mailer configuration for OTP delivery
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables
func Load() *Config {
	env := getEnv("ENVIRONMENT", "production")
	jwtSecret := loadJWTSecret(env)

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: env,
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "postgres"),
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWTSecret:   jwtSecret,
		CORSOrigins: loadCORSOrigins(env),
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "authcore_session"),
			Lifetime:       time.Duration(getEnvInt("SESSION_LIFETIME_MINUTES", 12*60)) * time.Minute,
			LandingPath:    getEnv("LANDING_PATH", "/admin"),
			ErrorPath:      getEnv("SESSION_ERROR_PATH", "/admin/login"),
			OAuthErrorPath: getEnv("OAUTH_ERROR_PATH", "/login"),
		},
		Cookies: loadCookieKeys(env),
		OTP: OTPConfig{
			CodeLength:           getEnvInt("OTP_CODE_LENGTH", 6),
			Expiration:           time.Duration(getEnvInt("OTP_EXPIRATION_MINUTES", 10)) * time.Minute,
			MaxAttempts:          getEnvInt("OTP_MAX_ATTEMPTS", 5),
			MaxRequestsPerWindow: getEnvInt("OTP_MAX_REQUESTS_PER_WINDOW", 5),
			Window:               time.Duration(getEnvInt("OTP_WINDOW_MINUTES", 60)) * time.Minute,
			BlockDuration:        time.Duration(getEnvInt("OTP_BLOCK_MINUTES", 60)) * time.Minute,
		},
		Vipps: loadVippsConfig(),
		SMTP:  loadSMTPConfig(),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "authcore")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "authcore")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}

		// Check for insecure default secrets
		insecureSecrets := []string{
			"change-this-secret-in-production",
			"change-me-in-production",
			"secret",
			"password",
			"changeme",
		}
		for _, insecure := range insecureSecrets {
			if c.JWTSecret == insecure {
				return fmt.Errorf("JWT_SECRET is set to an insecure default value. Please set a strong random secret")
			}
		}
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	if c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		return fmt.Errorf("OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxRequestsPerWindow < 1 {
		return fmt.Errorf("OTP attempt and request limits must be at least 1")
	}

	// Validate provider config if enabled
	if c.Vipps != nil && c.Vipps.Enabled {
		if c.Vipps.Issuer == "" {
			return fmt.Errorf("VIPPS_ISSUER is required when federated login is enabled")
		}
		if c.Vipps.ClientID == "" || c.Vipps.ClientSecret == "" {
			return fmt.Errorf("VIPPS_CLIENT_ID and VIPPS_CLIENT_SECRET are required when federated login is enabled")
		}
	}

	return nil
}

func loadJWTSecret(env string) string {
	secret := os.Getenv("JWT_SECRET")

	// If JWT_SECRET is not set, generate a random one for development
	if secret == "" {
		if env == "production" {
			log.Fatal("FATAL: JWT_SECRET environment variable is required in production")
		}

		log.Println("WARNING: JWT_SECRET not set. Generating random secret for development.")
		log.Println("WARNING: This secret will change on restart. Set JWT_SECRET in production!")
		return base64.URLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
	}

	if len(secret) < 16 {
		log.Fatal("FATAL: JWT_SECRET must be at least 16 characters long")
	}

	return secret
}

// loadCookieKeys loads the pending-session cookie keys. The hash key
// authenticates, the block key encrypts; both are required so the
// pending credential cannot be read or forged by the browser.
func loadCookieKeys(env string) CookieConfig {
	hashKey := decodeKey("COOKIE_HASH_KEY")
	blockKey := decodeKey("COOKIE_BLOCK_KEY")

	if hashKey == nil || blockKey == nil {
		if env == "production" {
			log.Fatal("FATAL: COOKIE_HASH_KEY and COOKIE_BLOCK_KEY (base64, 32 bytes each) are required in production")
		}
		log.Println("WARNING: cookie keys not set. Generating random keys for development.")
		return CookieConfig{
			HashKey:  securecookie.GenerateRandomKey(32),
			BlockKey: securecookie.GenerateRandomKey(32),
		}
	}

	return CookieConfig{HashKey: hashKey, BlockKey: blockKey}
}

func decodeKey(envVar string) []byte {
	value := os.Getenv(envVar)
	if value == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(key) != 32 {
		log.Fatalf("FATAL: %s must be 32 bytes of base64", envVar)
	}
	return key
}

func loadCORSOrigins(env string) []string {
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}

	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	log.Println("WARNING: Set APP_URL environment variable for production deployments.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func loadVippsConfig() *VippsConfig {
	issuer := os.Getenv("VIPPS_ISSUER")
	if issuer == "" {
		return &VippsConfig{Enabled: false}
	}

	clientID := os.Getenv("VIPPS_CLIENT_ID")
	clientSecret := os.Getenv("VIPPS_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Println("WARNING: VIPPS_ISSUER is set but VIPPS_CLIENT_ID or VIPPS_CLIENT_SECRET is missing. Federated login will be disabled.")
		return &VippsConfig{Enabled: false}
	}

	redirectURL := os.Getenv("VIPPS_REDIRECT_URL")
	if redirectURL == "" {
		if appURL := getAppURL(); appURL != "" {
			redirectURL = appURL + "/callback"
		}
	}

	scopes := []string{"openid", "email", "name", "phoneNumber"}
	if scopesEnv := os.Getenv("VIPPS_SCOPES"); scopesEnv != "" {
		scopes = splitAndTrim(scopesEnv, ",")
	}

	return &VippsConfig{
		Enabled:         true,
		Issuer:          issuer,
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		SubscriptionKey: os.Getenv("VIPPS_SUBSCRIPTION_KEY"),
		MerchantSerial:  os.Getenv("VIPPS_MERCHANT_SERIAL"),
		RedirectURL:     redirectURL,
		Scopes:          scopes,
	}
}

func loadSMTPConfig() *SMTPConfig {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil
	}
	return &SMTPConfig{
		Host:     host,
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getEnv("SMTP_FROM", "no-reply@localhost"),
	}
}

func splitAndTrim(s, sep string) []string {
	parts := []string{}
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
