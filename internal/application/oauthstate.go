package application

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer   = "shiptrack"
	stateAudience = "quickbooks-oauth"
	// StateTTL bounds how long a user may take on the consent screen.
	StateTTL = 15 * time.Minute
)

// stateClaims binds an authorization attempt to a credential slot and to the
// browser that started it (the nonce is also set as a cookie).
type stateClaims struct {
	jwt.RegisteredClaims
}

// StateSigner issues and verifies the OAuth state parameter as an HS256 JWT.
type StateSigner struct {
	key []byte
	now func() time.Time
}

// NewStateSigner derives a signing key from secret. A nil secret produces a
// signer whose every call fails.
func NewStateSigner(secret []byte) *StateSigner {
	s := &StateSigner{now: time.Now}
	if secret != nil {
		sum := sha256.Sum256(append([]byte("shiptrack oauth state\x00"), secret...))
		s.key = sum[:]
	}
	return s
}

var errStateKeyMissing = errors.New("state signing key not configured")

// Sign returns a state token for credentialID carrying nonce.
func (s *StateSigner) Sign(credentialID int64, nonce string) (string, error) {
	if s.key == nil {
		return "", errStateKeyMissing
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Audience:  jwt.ClaimStrings{stateAudience},
			Subject:   strconv.FormatInt(credentialID, 10),
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer, audience and expiry of state and
// returns the credential ID and nonce it carries.
func (s *StateSigner) Verify(state string) (credentialID int64, nonce string, err error) {
	if s.key == nil {
		return 0, "", errStateKeyMissing
	}

	claims := &stateClaims{}
	_, err = jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	credentialID, err = strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || credentialID <= 0 {
		return 0, "", fmt.Errorf("%w: bad subject", ErrInvalidState)
	}
	return credentialID, claims.ID, nil
}
