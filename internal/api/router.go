package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/nordkyn/authcore/internal/account"
	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/mailer"
	"github.com/nordkyn/authcore/internal/oauth"
	"github.com/nordkyn/authcore/internal/otp"
	"github.com/nordkyn/authcore/internal/session"
)

// NewRouter creates the HTTP router. oauthClient may be nil when
// federated login is not configured.
func NewRouter(cfg *config.Config, svc *otp.Service, oauthClient *oauth.Client, issuer *session.Issuer, resolver *account.Resolver, sender mailer.Sender) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Per-IP shield on the auth surface
	limiter := NewIPRateLimiter(rate.Every(time.Second), 10)
	limiter.CleanupOldLimiters()

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter))

		// Federated login flow
		r.Get("/login", HandleBeginLogin(cfg, oauthClient))
		r.Get("/callback", HandleCallback(cfg, oauthClient, resolver, issuer, account.DefaultMapper{}))
		r.Get("/session", HandleCreateSession(cfg, issuer, resolver))
		r.Post("/logout", HandleLogout(issuer))

		// OTP API
		r.Post("/otp/request", HandleOtpRequest(svc, sender))
		r.Post("/otp/verify", HandleOtpVerify(svc))
	})

	// Authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(issuer.Middleware)
		r.Get("/me", HandleMe())
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
