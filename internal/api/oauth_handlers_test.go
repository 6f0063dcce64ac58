package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nordkyn/authcore/internal/account"
	"github.com/nordkyn/authcore/internal/config"
	"github.com/nordkyn/authcore/internal/models"
	"github.com/nordkyn/authcore/internal/oauth"
	"github.com/nordkyn/authcore/internal/session"
	"github.com/nordkyn/authcore/internal/testutil"
)

// fakeProvider is a minimal OIDC peer for handler tests.
type fakeProvider struct {
	server           *httptest.Server
	tokenForm        url.Values
	tokenResponse    map[string]any
	userinfoResponse map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		tokenResponse:    map[string]any{"access_token": "at-123"},
		userinfoResponse: map[string]any{"sub": "sub-123", "email": "kari@example.com", "name": "Kari Nordmann"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 p.server.URL,
			"authorization_endpoint": p.server.URL + "/authorize",
			"token_endpoint":         p.server.URL + "/token",
			"userinfo_endpoint":      p.server.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.tokenForm = r.PostForm
		json.NewEncoder(w).Encode(p.tokenResponse)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(p.userinfoResponse)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

type oauthTestEnv struct {
	cfg      *config.Config
	db       *gorm.DB
	client   *oauth.Client
	resolver *account.Resolver
	issuer   *session.Issuer
	provider *fakeProvider
}

func newOAuthTestEnv(t *testing.T) *oauthTestEnv {
	t.Helper()
	provider := newFakeProvider(t)

	cfg := &config.Config{
		Environment: "test",
		Session:     testutil.SessionConfig(),
		Cookies:     testutil.CookieConfig(),
		JWTSecret:   "test-jwt-secret-at-least-32-chars!",
		Vipps: &config.VippsConfig{
			Enabled:      true,
			Issuer:       provider.server.URL,
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			RedirectURL:  "https://app.example.com/callback",
			Scopes:       []string{"openid", "email"},
		},
	}

	client, err := oauth.NewClient(cfg.Vipps)
	require.NoError(t, err)

	db := testutil.NewTestDB(t)
	return &oauthTestEnv{
		cfg:      cfg,
		db:       db,
		client:   client,
		resolver: account.NewResolver(db),
		issuer:   session.NewIssuer(cfg.Cookies, cfg.JWTSecret, cfg.Session),
		provider: provider,
	}
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestBeginLoginSetsFlowCookiesAndRedirects(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleBeginLogin(env.cfg, env.client)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", location.Path)

	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))
	assert.Equal(t, "https://app.example.com/callback", location.Query().Get("redirect_uri"))

	cookies := rec.Result().Cookies()
	verifierCookie := cookieByName(cookies, "vipps_pkce_"+state)
	require.NotNil(t, verifierCookie)
	assert.True(t, verifierCookie.HttpOnly)
	assert.Equal(t, 600, verifierCookie.MaxAge)

	redirectCookie := cookieByName(cookies, "vipps_redirect_"+state)
	require.NotNil(t, redirectCookie)
	assert.Equal(t, "https://app.example.com/callback", redirectCookie.Value)

	// The challenge in the URL is derived from the verifier in the cookie.
	assert.Equal(t, oauth.GenerateCodeChallenge(verifierCookie.Value), location.Query().Get("code_challenge"))
}

func TestBeginLoginDerivesRedirectFromRequest(t *testing.T) {
	env := newOAuthTestEnv(t)
	env.cfg.Vipps.RedirectURL = ""
	handler := HandleBeginLogin(env.cfg, env.client)

	req := httptest.NewRequest(http.MethodGet, "https://login.example.org/login", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "public.example.org")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https://public.example.org/callback", location.Query().Get("redirect_uri"))
}

func TestBeginLoginDisabled(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleBeginLogin(env.cfg, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallbackProviderError(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=oauth_failed", rec.Header().Get("Location"))
}

func TestCallbackMissingParams(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=invalid_callback", rec.Header().Get("Location"))
}

func TestCallbackMissingVerifierCookie(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	// Valid code and state but no PKCE cookie for that state.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=state-1", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=invalid_state", rec.Header().Get("Location"))
	assert.Nil(t, cookieByName(rec.Result().Cookies(), session.PendingCookieName))
}

func callbackRequest(state, verifier string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: "vipps_pkce_" + state, Value: verifier})
	req.AddCookie(&http.Cookie{Name: "vipps_redirect_" + state, Value: "https://app.example.com/callback"})
	return req
}

func TestCallbackSuccess(t *testing.T) {
	env := newOAuthTestEnv(t)
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, callbackRequest("state-1", "verifier-1"))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/session", rec.Header().Get("Location"))

	// The token exchange used the stored verifier and redirect URL.
	assert.Equal(t, "verifier-1", env.provider.tokenForm.Get("code_verifier"))
	assert.Equal(t, "https://app.example.com/callback", env.provider.tokenForm.Get("redirect_uri"))

	// Both PKCE cookies are cleared and the pending cookie is set.
	cookies := rec.Result().Cookies()
	pkce := cookieByName(cookies, "vipps_pkce_state-1")
	require.NotNil(t, pkce)
	assert.Equal(t, -1, pkce.MaxAge)

	pending := cookieByName(cookies, session.PendingCookieName)
	require.NotNil(t, pending)
	assert.Equal(t, 60, pending.MaxAge)

	// The account was created from the provider profile.
	var acct models.Account
	require.NoError(t, env.db.Where("email = ?", "kari@example.com").First(&acct).Error)
	assert.Equal(t, "Kari Nordmann", acct.DisplayName)
}

func TestCallbackTokenExchangeFailure(t *testing.T) {
	env := newOAuthTestEnv(t)
	env.provider.tokenResponse = map[string]any{"error": "invalid_grant"}
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, callbackRequest("state-1", "verifier-1"))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=token_failed", rec.Header().Get("Location"))
	assert.Nil(t, cookieByName(rec.Result().Cookies(), session.PendingCookieName))
}

func TestCallbackProfileWithoutEmail(t *testing.T) {
	env := newOAuthTestEnv(t)
	env.provider.userinfoResponse = map[string]any{"sub": "sub-123"}
	handler := HandleCallback(env.cfg, env.client, env.resolver, env.issuer, account.DefaultMapper{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, callbackRequest("state-1", "verifier-1"))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=no_email", rec.Header().Get("Location"))

	// The account resolver must not have been called.
	var count int64
	require.NoError(t, env.db.Model(&models.Account{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateSessionFromPendingCookie(t *testing.T) {
	env := newOAuthTestEnv(t)

	acct, err := env.resolver.FindOrCreate(context.Background(), "kari@example.com")
	require.NoError(t, err)

	setRec := httptest.NewRecorder()
	setReq := httptest.NewRequest(http.MethodGet, "/callback", nil)
	require.NoError(t, env.issuer.SetPendingCookie(setRec, setReq, &session.PendingSession{AccountID: acct.ID, Email: acct.Email}))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(cookieByName(setRec.Result().Cookies(), session.PendingCookieName))

	rec := httptest.NewRecorder()
	HandleCreateSession(env.cfg, env.issuer, env.resolver).ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin", rec.Header().Get("Location"))

	sessionCookie := cookieByName(rec.Result().Cookies(), "authcore_session")
	require.NotNil(t, sessionCookie)

	claims, err := env.issuer.ParseToken(sessionCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, claims.UserID)
	assert.Equal(t, "kari@example.com", claims.Email)

	// Single use: the pending cookie is cleared.
	pending := cookieByName(rec.Result().Cookies(), session.PendingCookieName)
	require.NotNil(t, pending)
	assert.Equal(t, -1, pending.MaxAge)
}

func TestCreateSessionWithoutPendingCookie(t *testing.T) {
	env := newOAuthTestEnv(t)

	rec := httptest.NewRecorder()
	HandleCreateSession(env.cfg, env.issuer, env.resolver).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "/admin/login"))
	assert.Contains(t, location, "error=auth_failed")
	assert.Nil(t, cookieByName(rec.Result().Cookies(), "authcore_session"))
}

func TestCreateSessionInactiveAccount(t *testing.T) {
	env := newOAuthTestEnv(t)

	acct, err := env.resolver.FindOrCreate(context.Background(), "kari@example.com")
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Account{}).Where("id = ?", acct.ID).Update("active", false).Error)

	setRec := httptest.NewRecorder()
	require.NoError(t, env.issuer.SetPendingCookie(setRec, httptest.NewRequest(http.MethodGet, "/callback", nil), &session.PendingSession{AccountID: acct.ID, Email: acct.Email}))

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.AddCookie(cookieByName(setRec.Result().Cookies(), session.PendingCookieName))

	rec := httptest.NewRecorder()
	HandleCreateSession(env.cfg, env.issuer, env.resolver).ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=auth_failed")
	assert.Nil(t, cookieByName(rec.Result().Cookies(), "authcore_session"))
}

func TestMeReportsSessionClaims(t *testing.T) {
	env := newOAuthTestEnv(t)

	acct, err := env.resolver.FindOrCreate(context.Background(), "kari@example.com")
	require.NoError(t, err)

	issueRec := httptest.NewRecorder()
	_, err = env.issuer.IssueSession(issueRec, httptest.NewRequest(http.MethodGet, "/session", nil), acct)
	require.NoError(t, err)

	handler := env.issuer.Middleware(HandleMe())

	// Without a session cookie the middleware blocks the request.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookieByName(issueRec.Result().Cookies(), "authcore_session"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, float64(acct.ID), body["userId"])
	assert.Equal(t, "kari@example.com", body["email"])
	assert.NotEmpty(t, body["sessionId"])
}

func TestLogoutClearsSession(t *testing.T) {
	env := newOAuthTestEnv(t)

	rec := httptest.NewRecorder()
	HandleLogout(env.issuer).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	cleared := cookieByName(rec.Result().Cookies(), "authcore_session")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}
