package application

import (
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

// Token lifecycle windows.
const (
	// RefreshLeadTime is how long before access-token expiry a credential becomes due.
	RefreshLeadTime = 10 * time.Minute
	// MinCheckDelay is the earliest a check is ever scheduled from now.
	MinCheckDelay = time.Minute
	// MaxCheckDelay caps the wait between scheduler cycles.
	MaxCheckDelay = 24 * time.Hour
	// IdleCheckDelay is used when no credential has a pending expiry.
	IdleCheckDelay = time.Hour
)

// Lifetimes assumed when the token endpoint omits them.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 100 * 24 * time.Hour
)

// NeedsRefresh reports whether the access token expires within the lead time.
// Credentials without an access token or expiry are never due; they are
// either unauthenticated or handled by the caller conservatively.
func NeedsRefresh(cred model.Credential, now time.Time) bool {
	if !cred.HasAccessToken() || cred.AccessTokenExpiresAt.IsZero() {
		return false
	}
	return !cred.AccessTokenExpiresAt.After(now.Add(RefreshLeadTime))
}

// RefreshTokenValid reports whether the credential can still be refreshed.
// A missing refresh-token expiry means the token never expires.
func RefreshTokenValid(cred model.Credential, now time.Time) bool {
	if cred.RefreshToken == "" {
		return false
	}
	return cred.RefreshTokenExpiresAt.IsZero() || cred.RefreshTokenExpiresAt.After(now)
}

// RefreshDeadline returns when the credential should be refreshed: the lead
// time before access-token expiry, never earlier than one minute from now.
// ok is false when there is no access token or expiry.
func RefreshDeadline(cred model.Credential, now time.Time) (deadline time.Time, ok bool) {
	if !cred.HasAccessToken() || cred.AccessTokenExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return floorAt(cred.AccessTokenExpiresAt.Add(-RefreshLeadTime), now.Add(MinCheckDelay)), true
}

// NextCheckAt returns when the scheduler should next wake. Only credentials
// with an access token, an expiry and a usable refresh-token lifetime take
// part; the earliest expiry minus the lead time wins, floored at one minute
// from now. With no eligible credential the next check is an hour out.
func NextCheckAt(creds []model.Credential, now time.Time) time.Time {
	var earliest time.Time
	for _, c := range creds {
		if !c.HasAccessToken() || c.AccessTokenExpiresAt.IsZero() {
			continue
		}
		if !c.RefreshTokenExpiresAt.IsZero() && !c.RefreshTokenExpiresAt.After(now) {
			continue
		}
		if earliest.IsZero() || c.AccessTokenExpiresAt.Before(earliest) {
			earliest = c.AccessTokenExpiresAt
		}
	}

	if earliest.IsZero() {
		return now.Add(IdleCheckDelay)
	}
	return floorAt(earliest.Add(-RefreshLeadTime), now.Add(MinCheckDelay))
}

// ClampDelay bounds a scheduling delay to [MinCheckDelay, MaxCheckDelay].
func ClampDelay(d time.Duration) time.Duration {
	return min(max(d, MinCheckDelay), MaxCheckDelay)
}

func floorAt(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
