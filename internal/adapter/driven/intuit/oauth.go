// Package intuit implements the OAuthProvider and AccountingClient ports
// against Intuit's OAuth2 server and the QuickBooks Online v3 API.
package intuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthProvider = (*OAuthProvider)(nil)

// Intuit OAuth2 endpoints and the accounting scope.
const (
	AuthURL         = "https://appcenter.intuit.com/connect/oauth2"
	TokenURL        = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	AccountingScope = "com.intuit.quickbooks.accounting"
)

// OAuthProvider exchanges authorization codes and refresh tokens with Intuit.
// It keeps no token state; every call starts from the arguments it is given.
type OAuthProvider struct {
	conf       *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthProvider creates a provider for the given client credentials and
// redirect URL using Intuit's production OAuth endpoints.
func NewOAuthProvider(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return NewOAuthProviderWithEndpoint(clientID, clientSecret, redirectURL, oauth2.Endpoint{
		AuthURL:   AuthURL,
		TokenURL:  TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}, &http.Client{Timeout: 30 * time.Second})
}

// NewOAuthProviderWithEndpoint creates a provider against a custom endpoint.
// This constructor is intended for testing with an httptest server.
func NewOAuthProviderWithEndpoint(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, httpClient *http.Client) *OAuthProvider {
	return &OAuthProvider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{AccountingScope},
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// AuthCodeURL returns the Intuit consent URL carrying state.
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (model.TokenGrant, error) {
	tok, err := p.conf.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("exchange authorization code: %w", describeError(err))
	}
	return p.grantFromToken(tok, ""), nil
}

// Refresh trades refreshToken for a new access token. The returned grant
// carries a refresh token only when Intuit rotated it.
func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error) {
	src := p.conf.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return model.TokenGrant{}, fmt.Errorf("refresh access token: %w", describeError(err))
	}
	return p.grantFromToken(tok, refreshToken), nil
}

func (p *OAuthProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *OAuthProvider) grantFromToken(tok *oauth2.Token, previousRefresh string) model.TokenGrant {
	grant := model.TokenGrant{
		AccessToken:     tok.AccessToken,
		AccessTokenTTL:  secondsExtra(tok, "expires_in"),
		RefreshTokenTTL: secondsExtra(tok, "x_refresh_token_expires_in"),
	}

	if grant.AccessTokenTTL <= 0 && !tok.Expiry.IsZero() {
		grant.AccessTokenTTL = tok.Expiry.Sub(p.now())
	}

	// x/oauth2 carries the old refresh token forward when the server omits it.
	if tok.RefreshToken != "" && tok.RefreshToken != previousRefresh {
		grant.RefreshToken = tok.RefreshToken
	}

	return grant
}

// secondsExtra reads a numeric lifetime field from the raw token response.
// Non-positive or unparseable values yield zero.
func secondsExtra(tok *oauth2.Token, key string) time.Duration {
	var secs float64
	switch v := tok.Extra(key).(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		secs = f
	default:
		return 0
	}

	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// describeError surfaces the OAuth error code when the token endpoint sent one.
func describeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("token endpoint returned %d %s: %w", status, retrieveErr.ErrorCode, err)
	}
	return err
}
