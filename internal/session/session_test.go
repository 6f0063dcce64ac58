package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordkyn/authcore/internal/models"
	"github.com/nordkyn/authcore/internal/testutil"
)

func newTestIssuer() *Issuer {
	return NewIssuer(testutil.CookieConfig(), "test-jwt-secret-at-least-32-chars!", testutil.SessionConfig())
}

func pendingCookieFromRecorder(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == PendingCookieName {
			return c
		}
	}
	t.Fatal("pending cookie not set")
	return nil
}

func TestPendingCookieRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	pending := &PendingSession{AccountID: 42, Email: "kari@example.com", Subject: "sub-1"}
	require.NoError(t, issuer.SetPendingCookie(rec, req, pending))

	cookie := pendingCookieFromRecorder(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(PendingTTL.Seconds()), cookie.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	req2 := httptest.NewRequest(http.MethodGet, "/session", nil)
	req2.AddCookie(cookie)
	decoded, err := issuer.ReadPendingCookie(req2)
	require.NoError(t, err)
	assert.Equal(t, 42, decoded.AccountID)
	assert.Equal(t, "kari@example.com", decoded.Email)
	assert.Equal(t, "sub-1", decoded.Subject)
}

func TestPendingCookieRejectsTampering(t *testing.T) {
	issuer := newTestIssuer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	require.NoError(t, issuer.SetPendingCookie(rec, req, &PendingSession{AccountID: 42, Email: "a@b.com"}))

	cookie := pendingCookieFromRecorder(t, rec)
	cookie.Value = cookie.Value[:len(cookie.Value)-4] + "AAAA"

	req2 := httptest.NewRequest(http.MethodGet, "/session", nil)
	req2.AddCookie(cookie)
	_, err := issuer.ReadPendingCookie(req2)
	assert.Error(t, err)
}

func TestPendingCookieRejectsForeignKeys(t *testing.T) {
	issuer := newTestIssuer()

	// A cookie minted under different keys must not decode.
	otherKeys := testutil.CookieConfig()
	otherKeys.HashKey = []byte("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	other := NewIssuer(otherKeys, "other-secret", testutil.SessionConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	require.NoError(t, other.SetPendingCookie(rec, req, &PendingSession{AccountID: 1, Email: "a@b.com"}))

	cookie := pendingCookieFromRecorder(t, rec)
	req2 := httptest.NewRequest(http.MethodGet, "/session", nil)
	req2.AddCookie(cookie)
	_, err := issuer.ReadPendingCookie(req2)
	assert.Error(t, err)
}

func TestIssueSessionSetsSignedCookie(t *testing.T) {
	issuer := newTestIssuer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	acct := &models.Account{ID: 7, Email: "kari@example.com", Active: true}

	sid, err := issuer.IssueSession(rec, req, acct)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authcore_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)

	claims, err := issuer.ParseToken(sessionCookie.Value)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "kari@example.com", claims.Email)
	assert.Equal(t, sid, claims.SessionID)
	assert.Equal(t, "user", claims.Role)
	assert.NotNil(t, claims.ExpiresAt)
}

func TestIssueSessionRejectsInactiveAccount(t *testing.T) {
	issuer := newTestIssuer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	_, err := issuer.IssueSession(rec, req, &models.Account{ID: 7, Email: "a@b.com", Active: false})
	assert.Error(t, err)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer()
	other := NewIssuer(testutil.CookieConfig(), "a-completely-different-signing-key", testutil.SessionConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	_, err := other.IssueSession(rec, req, &models.Account{ID: 7, Email: "a@b.com", Active: true})
	require.NoError(t, err)

	var value string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "authcore_session" {
			value = c.Value
		}
	}
	require.NotEmpty(t, value)

	_, err = issuer.ParseToken(value)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	issuer := newTestIssuer()

	var gotClaims *Claims
	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		gotClaims = claims
		w.WriteHeader(http.StatusOK)
	}))

	// Without a cookie: 401.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// With a valid session cookie: 200 and claims in context.
	issueRec := httptest.NewRecorder()
	_, err := issuer.IssueSession(issueRec, httptest.NewRequest(http.MethodGet, "/session", nil), &models.Account{ID: 9, Email: "a@b.com", Active: true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	for _, c := range issueRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, 9, gotClaims.UserID)
}
