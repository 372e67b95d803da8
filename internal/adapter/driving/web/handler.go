// Package web implements the browser-facing driving adapter: the QuickBooks
// consent redirect, the OAuth callback and a landing page rendered with templ
// components.
package web

//go:generate go tool templ generate -path templates

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/shiptrack/internal/adapter/driving/web/templates/pages"
	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// Authorizer runs the OAuth authorization-code flow.
type Authorizer interface {
	BeginAuthorization(ctx context.Context) (application.AuthorizationStart, error)
	CompleteAuthorization(ctx context.Context, cb application.AuthorizationCallback) (*model.Credential, error)
	Status(ctx context.Context) (application.ConnectionStatus, error)
}

// Handler is the web driving adapter.
type Handler struct {
	auth         Authorizer
	secureCookie bool
	logger       *slog.Logger
}

// NewHandler creates a Handler. secureCookie marks the nonce cookie Secure and
// should be set when the app is served over HTTPS.
func NewHandler(auth Authorizer, secureCookie bool, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, secureCookie: secureCookie, logger: logger}
}

// Authenticate redirects the browser to the Intuit consent screen.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	start, err := h.auth.BeginAuthorization(r.Context())
	if err != nil {
		h.logger.Error("failed to start quickbooks authorization", "error", err)
		http.Redirect(w, r, "/?quickbooks=failed", http.StatusFound)
		return
	}

	setNonceCookie(w, start.Nonce, application.StateTTL, h.secureCookie)
	http.Redirect(w, r, start.URL, http.StatusFound)
}

// OAuthCallback completes the authorization and always redirects home with
// the outcome in the query string.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonce := takeNonceCookie(w, r, h.secureCookie)

	if denied := q.Get("error"); denied != "" {
		h.logger.Warn("quickbooks authorization denied", "error", denied)
		http.Redirect(w, r, "/?quickbooks=failed", http.StatusFound)
		return
	}

	_, err := h.auth.CompleteAuthorization(r.Context(), application.AuthorizationCallback{
		Code:    q.Get("code"),
		State:   q.Get("state"),
		RealmID: q.Get("realmId"),
		Nonce:   nonce,
	})
	if err != nil {
		h.logger.Error("quickbooks authorization callback failed", "error", err)
		http.Redirect(w, r, "/?quickbooks=failed", http.StatusFound)
		return
	}

	http.Redirect(w, r, "/?quickbooks=connected", http.StatusFound)
}

// Index renders the landing page with the connection state.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	status, err := h.auth.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to load quickbooks status", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	view := pages.IndexView{
		Result:       r.URL.Query().Get("quickbooks"),
		Connected:    status.Connected,
		RealmID:      status.RealmID,
		ConfigIssues: status.ConfigIssues,
	}
	if !status.AccessTokenExpiresAt.IsZero() {
		view.AccessExpiry = status.AccessTokenExpiresAt.UTC().Format(time.RFC1123)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	layout := templates.Layout("ShipTrack", pages.Index(view))
	if err := layout.Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render index", "error", err)
	}
}
