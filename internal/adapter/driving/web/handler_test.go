package web_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shiptrack/internal/adapter/driving/web"
	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

type mockAuthorizer struct {
	beginErr    error
	completeErr error
	callback    application.AuthorizationCallback
	completed   bool
	status      application.ConnectionStatus
}

func (m *mockAuthorizer) BeginAuthorization(context.Context) (application.AuthorizationStart, error) {
	if m.beginErr != nil {
		return application.AuthorizationStart{}, m.beginErr
	}
	return application.AuthorizationStart{
		URL:   "https://appcenter.intuit.com/connect/oauth2?state=signed",
		Nonce: "nonce-123",
	}, nil
}

func (m *mockAuthorizer) CompleteAuthorization(_ context.Context, cb application.AuthorizationCallback) (*model.Credential, error) {
	m.completed = true
	m.callback = cb
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &model.Credential{ID: 1, RealmID: cb.RealmID}, nil
}

func (m *mockAuthorizer) Status(context.Context) (application.ConnectionStatus, error) {
	return m.status, nil
}

func newTestMux(auth *mockAuthorizer) *http.ServeMux {
	mux := http.NewServeMux()
	web.RegisterRoutes(mux, web.NewHandler(auth, true, slog.Default()))
	return mux
}

func TestAuthenticate_RedirectsWithNonceCookie(t *testing.T) {
	mux := newTestMux(&mockAuthorizer{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quickbooks/authenticate", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://appcenter.intuit.com/connect/oauth2?state=signed", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "qb_oauth_nonce", cookies[0].Name)
	assert.Equal(t, "nonce-123", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestAuthenticate_FailureRedirectsHome(t *testing.T) {
	mux := newTestMux(&mockAuthorizer{beginErr: errors.New("encryption key not configured")})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quickbooks/authenticate", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/?quickbooks=failed", rec.Header().Get("Location"))
}

func TestOAuthCallback_Success(t *testing.T) {
	auth := &mockAuthorizer{}
	mux := newTestMux(auth)

	req := httptest.NewRequest(http.MethodGet, "/quickbooks/oauth_callback?code=abc&state=signed&realmId=9130350", nil)
	req.AddCookie(&http.Cookie{Name: "qb_oauth_nonce", Value: "nonce-123"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/?quickbooks=connected", rec.Header().Get("Location"))
	assert.Equal(t, application.AuthorizationCallback{
		Code: "abc", State: "signed", RealmID: "9130350", Nonce: "nonce-123",
	}, auth.callback)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge, "nonce cookie is single use")
}

func TestOAuthCallback_FailureRedirectsHome(t *testing.T) {
	auth := &mockAuthorizer{completeErr: application.ErrInvalidState}
	mux := newTestMux(auth)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quickbooks/oauth_callback?code=abc&state=forged", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/?quickbooks=failed", rec.Header().Get("Location"))
	assert.Empty(t, auth.callback.Nonce)
}

func TestOAuthCallback_UserDenied(t *testing.T) {
	auth := &mockAuthorizer{}
	mux := newTestMux(auth)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quickbooks/oauth_callback?error=access_denied&state=signed", nil))

	assert.Equal(t, "/?quickbooks=failed", rec.Header().Get("Location"))
	assert.False(t, auth.completed)
}

func TestIndex(t *testing.T) {
	auth := &mockAuthorizer{status: application.ConnectionStatus{
		Connected:    true,
		RealmID:      "9130350",
		ConfigIssues: []string{"secret_key_missing"},
	}}
	mux := newTestMux(auth)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?quickbooks=connected", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<title>ShipTrack</title>")
	assert.Contains(t, body, "QuickBooks connected.")
	assert.Contains(t, body, "company 9130350")
	assert.Contains(t, body, "Configuration issue: secret_key_missing")
	assert.NotContains(t, body, "Access token expires", "no expiry line without an expiry")
}

func TestIndex_EscapesRealmID(t *testing.T) {
	auth := &mockAuthorizer{status: application.ConnectionStatus{
		Connected:            true,
		RealmID:              "<script>alert(1)</script>",
		AccessTokenExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
	mux := newTestMux(auth)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?quickbooks=failed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, "QuickBooks connection failed.")
	assert.Contains(t, body, "Access token expires Sun, 01 Mar 2026 12:00:00 UTC.")
}
