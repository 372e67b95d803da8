package web

import (
	"net/http"
	"time"
)

const nonceCookieName = "qb_oauth_nonce"

// setNonceCookie binds the authorization attempt to this browser. Lax is
// required: the cookie must ride along on the top-level redirect back from
// Intuit.
func setNonceCookie(w http.ResponseWriter, nonce string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName,
		Value:    nonce,
		Path:     "/quickbooks/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// takeNonceCookie returns the nonce cookie value and expires the cookie.
func takeNonceCookie(w http.ResponseWriter, r *http.Request, secure bool) string {
	cookie, err := r.Cookie(nonceCookieName)
	if err != nil {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookieName,
		Value:    "",
		Path:     "/quickbooks/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return cookie.Value
}
