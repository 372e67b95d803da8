package model

import "time"

// Credential is the delegated authority to call the accounting API on behalf
// of one connected QuickBooks company. Empty strings and zero times mean the
// field has not been populated yet.
type Credential struct {
	ID                    int64
	RealmID               string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time // zero means the refresh token never expires
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasAccessToken reports whether an access token is stored.
func (c Credential) HasAccessToken() bool {
	return c.AccessToken != ""
}

// Connected reports whether the authorization callback has completed for
// this credential, i.e. a company (realm) is attached.
func (c Credential) Connected() bool {
	return c.RealmID != ""
}

// CredentialUpdate lists the fields to merge into a stored credential.
// Nil pointers leave the stored value untouched.
type CredentialUpdate struct {
	RealmID               *string
	AccessToken           *string
	AccessTokenExpiresAt  *time.Time
	RefreshToken          *string
	RefreshTokenExpiresAt *time.Time
}

// TokenGrant is the outcome of an OAuth2 token exchange (authorization code
// or refresh). Expiry fields are absolute and already defaulted by the
// provider adapter's caller.
type TokenGrant struct {
	AccessToken string
	// AccessTokenTTL is the lifetime reported by the token endpoint, zero when omitted.
	AccessTokenTTL time.Duration
	// RefreshToken is empty when the endpoint did not rotate it.
	RefreshToken string
	// RefreshTokenTTL is x_refresh_token_expires_in, zero when omitted or non-positive.
	RefreshTokenTTL time.Duration
}

// Update converts a grant into the credential fields to persist, applying the
// conservative defaults for omitted lifetimes relative to now.
func (g TokenGrant) Update(now time.Time, accessDefault, refreshDefault time.Duration) CredentialUpdate {
	accessTTL := g.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = accessDefault
	}
	refreshTTL := g.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = refreshDefault
	}

	accessToken := g.AccessToken
	accessExpiry := now.Add(accessTTL)
	refreshExpiry := now.Add(refreshTTL)

	update := CredentialUpdate{
		AccessToken:           &accessToken,
		AccessTokenExpiresAt:  &accessExpiry,
		RefreshTokenExpiresAt: &refreshExpiry,
	}
	if g.RefreshToken != "" {
		refreshToken := g.RefreshToken
		update.RefreshToken = &refreshToken
	}
	return update
}
