package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
)

// PendingCookieName carries the stage-1 credential bridging an OAuth
// callback to session creation. Never itself a logged-in state.
const PendingCookieName = "authcore_pending"

// PendingTTL bounds how long the stage-1 credential stays valid
const PendingTTL = 60 * time.Second

// PendingSession is the encrypted payload of the stage-1 cookie
type PendingSession struct {
	AccountID   int    `json:"account_id"`
	Email       string `json:"email"`
	Subject     string `json:"subject,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Claims is the signed session token payload
type Claims struct {
	UserID    int    `json:"uid"`
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer converts a verified identity into a pending credential and
// then a signed, cookie-carried session. The sole place sessions are
// minted.
type Issuer struct {
	codec     *securecookie.SecureCookie
	jwtSecret string
	cfg       config.SessionConfig
}

// NewIssuer creates a session issuer
func NewIssuer(cookies config.CookieConfig, jwtSecret string, cfg config.SessionConfig) *Issuer {
	codec := securecookie.New(cookies.HashKey, cookies.BlockKey)
	codec.MaxAge(int(PendingTTL.Seconds()))
	return &Issuer{codec: codec, jwtSecret: jwtSecret, cfg: cfg}
}

// SetPendingCookie encrypts the pending identity into the short-lived
// stage-1 cookie
func (i *Issuer) SetPendingCookie(w http.ResponseWriter, r *http.Request, pending *PendingSession) error {
	encoded, err := i.codec.Encode(PendingCookieName, pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     PendingCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(PendingTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return nil
}

// ReadPendingCookie decrypts and authenticates the stage-1 cookie.
// securecookie rejects tampered values and values older than PendingTTL.
func (i *Issuer) ReadPendingCookie(r *http.Request) (*PendingSession, error) {
	cookie, err := r.Cookie(PendingCookieName)
	if err != nil {
		return nil, fmt.Errorf("no pending session cookie")
	}
	var pending PendingSession
	if err := i.codec.Decode(PendingCookieName, cookie.Value, &pending); err != nil {
		return nil, fmt.Errorf("invalid pending session cookie: %w", err)
	}
	return &pending, nil
}

// ClearPendingCookie removes the stage-1 cookie (single use)
func (i *Issuer) ClearPendingCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     PendingCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// IssueSession signs a session token for the account and sets it as the
// stage-2 cookie. Returns the session id.
func (i *Issuer) IssueSession(w http.ResponseWriter, r *http.Request, acct *models.Account) (string, error) {
	if !acct.Active {
		return "", fmt.Errorf("account %d is not active", acct.ID)
	}

	now := time.Now()
	sid := uuid.NewString()
	role := "user"

	claims := Claims{
		UserID:    acct.ID,
		Email:     acct.Email,
		SessionID: sid,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.Lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     i.cfg.CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(i.cfg.Lifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	return sid, nil
}

// ParseToken validates a signed session token and returns its claims
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// ClearSession removes the stage-2 cookie (logout)
func (i *Issuer) ClearSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

type contextKey string

const claimsContextKey contextKey = "session_claims"

// Middleware validates the session cookie and stores the claims in the
// request context. Requests without a valid session get 401.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(i.cfg.CookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		claims, err := i.ParseToken(cookie.Value)
		if err != nil {
			http.Error(w, "Invalid session", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the session claims stored by Middleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
