package driven

import (
	"context"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// OAuthProvider defines the driven port for the external OAuth2 server.
// Implementations must not retain tokens between calls.
type OAuthProvider interface {
	// AuthCodeURL returns the authorization URL the user is redirected to.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code string) (model.TokenGrant, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (model.TokenGrant, error)
}
