package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/nordkyn/authcore/internal/account"
	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/oauth"
	"github.com/nordkyn/authcore/internal/session"
)

const flowCookieMaxAge = 600 // PKCE cookies live 10 minutes

func pkceCookieName(state string) string {
	return "vipps_pkce_" + state
}

func redirectCookieName(state string) string {
	return "vipps_redirect_" + state
}

func setFlowCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   flowCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func clearFlowCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// redirectLoginError sends the browser back to the login page with a
// short opaque error code. Provider detail stays in the server logs.
func redirectLoginError(w http.ResponseWriter, r *http.Request, cfg *config.Config, code string) {
	http.Redirect(w, r, cfg.Session.OAuthErrorPath+"?error="+code, http.StatusFound)
}

// callbackURL computes the URL the provider must return to: the
// configured value, or one derived from the current request origin so
// the flow works behind a reverse proxy.
func callbackURL(cfg *config.Config, r *http.Request) string {
	if cfg.Vipps != nil && cfg.Vipps.RedirectURL != "" {
		return cfg.Vipps.RedirectURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	return scheme + "://" + host + "/callback"
}

// HandleBeginLogin starts the federated login flow: generates the PKCE
// material, parks it in short-lived cookies keyed by state, and
// redirects to the provider's authorization endpoint.
func HandleBeginLogin(cfg *config.Config, client *oauth.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client == nil {
			http.Error(w, "Federated login is not enabled", http.StatusNotFound)
			return
		}

		state, err := oauth.GenerateState()
		if err != nil {
			log.Println("OAuth: Failed to generate state:", err)
			http.Error(w, "Failed to initiate login", http.StatusInternalServerError)
			return
		}

		verifier, err := oauth.GenerateCodeVerifier()
		if err != nil {
			log.Println("OAuth: Failed to generate code verifier:", err)
			http.Error(w, "Failed to initiate login", http.StatusInternalServerError)
			return
		}

		redirectURL := callbackURL(cfg, r)

		// The callback must reuse the exact redirect_uri declared here,
		// even behind a proxy that rewrites the visible host, so it is
		// stored alongside the verifier.
		setFlowCookie(w, r, pkceCookieName(state), verifier)
		setFlowCookie(w, r, redirectCookieName(state), redirectURL)

		authURL := client.GetAuthorizationURL(state, oauth.GenerateCodeChallenge(verifier), redirectURL)
		log.Println("OAuth: Redirecting to authorization URL")
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleCallback processes the provider redirect: validates state,
// exchanges the code, fetches the profile, resolves the account and
// bridges to session creation via the pending-session cookie. Every
// exit clears the single-use PKCE cookies.
func HandleCallback(cfg *config.Config, client *oauth.Client, resolver *account.Resolver, issuer *session.Issuer, mapper account.ProfileMapper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if client == nil {
			http.Error(w, "Federated login is not enabled", http.StatusNotFound)
			return
		}

		q := r.URL.Query()
		if provErr := q.Get("error"); provErr != "" {
			log.Printf("OAuth: provider returned error %q", provErr)
			redirectLoginError(w, r, cfg, "oauth_failed")
			return
		}

		code, state := q.Get("code"), q.Get("state")
		if code == "" || state == "" {
			log.Println("OAuth: invalid callback, missing code or state")
			redirectLoginError(w, r, cfg, "invalid_callback")
			return
		}

		verifierCookie, err := r.Cookie(pkceCookieName(state))
		if err != nil || verifierCookie.Value == "" {
			log.Println("OAuth: no verifier cookie for state")
			clearFlowCookie(w, r, redirectCookieName(state))
			redirectLoginError(w, r, cfg, "invalid_state")
			return
		}
		verifier := verifierCookie.Value

		redirectURL := callbackURL(cfg, r)
		if c, err := r.Cookie(redirectCookieName(state)); err == nil && c.Value != "" {
			redirectURL = c.Value
		}

		// Single use, success or not.
		clearFlowCookie(w, r, pkceCookieName(state))
		clearFlowCookie(w, r, redirectCookieName(state))

		ctx := r.Context()

		accessToken, err := client.ExchangeCode(ctx, code, verifier, redirectURL)
		if err != nil {
			log.Println("OAuth: token exchange failed:", err)
			redirectLoginError(w, r, cfg, "token_failed")
			return
		}

		profile, err := client.GetUserInfo(ctx, accessToken)
		if err != nil {
			log.Println("OAuth: userinfo fetch failed:", err)
			redirectLoginError(w, r, cfg, "callback_failed")
			return
		}

		if profile.Email == "" {
			log.Println("OAuth: provider profile carries no email")
			redirectLoginError(w, r, cfg, "no_email")
			return
		}

		acct, err := resolver.FindOrCreate(ctx, profile.Email)
		if err != nil {
			log.Println("OAuth: account resolution failed:", err)
			redirectLoginError(w, r, cfg, "user_creation_failed")
			return
		}

		if err := resolver.UpdateFromProfile(ctx, acct, profile, mapper); err != nil {
			// The login still proceeds on a stale profile.
			log.Println("OAuth: profile update failed:", err)
		}

		pending := &session.PendingSession{
			AccountID:   acct.ID,
			Email:       acct.Email,
			Subject:     profile.Subject,
			PhoneNumber: profile.PhoneNumber,
		}
		if err := issuer.SetPendingCookie(w, r, pending); err != nil {
			log.Println("OAuth: failed to set pending session cookie:", err)
			redirectLoginError(w, r, cfg, "callback_failed")
			return
		}

		http.Redirect(w, r, "/session", http.StatusFound)
	}
}

// HandleCreateSession promotes a valid pending-session cookie into the
// signed session cookie and lands the browser in the app. The encrypted
// cookie is the only trust anchor here; its key and 60s TTL carry the
// whole weight.
func HandleCreateSession(cfg *config.Config, issuer *session.Issuer, resolver *account.Resolver) http.HandlerFunc {
	errorTarget := cfg.Session.ErrorPath
	if !strings.Contains(errorTarget, "error=") {
		errorTarget += "?error=auth_failed"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := issuer.ReadPendingCookie(r)
		issuer.ClearPendingCookie(w, r)
		if err != nil {
			log.Println("Session: invalid pending session:", err)
			http.Redirect(w, r, errorTarget, http.StatusFound)
			return
		}

		acct, err := resolver.GetByID(r.Context(), pending.AccountID)
		if err != nil || !acct.Active {
			log.Printf("Session: account %d missing or inactive", pending.AccountID)
			http.Redirect(w, r, errorTarget, http.StatusFound)
			return
		}

		sid, err := issuer.IssueSession(w, r, acct)
		if err != nil {
			log.Println("Session: failed to issue session:", err)
			http.Redirect(w, r, errorTarget, http.StatusFound)
			return
		}

		log.Printf("Session: issued session %s for account %d", sid, acct.ID)
		http.Redirect(w, r, cfg.Session.LandingPath, http.StatusFound)
	}
}

// HandleMe reports who the current session belongs to
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := session.ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "Not authenticated", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"userId":    claims.UserID,
			"email":     claims.Email,
			"sessionId": claims.SessionID,
			"role":      claims.Role,
		})
	}
}

// HandleLogout clears the session cookie
func HandleLogout(issuer *session.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer.ClearSession(w, r)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "Logged out"}`))
	}
}
