package web

import "net/http"

// RegisterRoutes registers the browser-facing routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /quickbooks/authenticate", h.Authenticate)
	mux.HandleFunc("GET /quickbooks/oauth_callback", h.OAuthCallback)
}
