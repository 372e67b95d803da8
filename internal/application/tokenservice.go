package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// RefreshResult is the outcome of a refresh request for one credential.
type RefreshResult struct {
	Credential *model.Credential
	// Refreshed is false when the re-read credential was no longer due.
	Refreshed bool
}

// TokenService exchanges refresh tokens and writes the results back to the
// credential store. At most one exchange per credential is in flight at a
// time; concurrent callers share its result. No lock is held across the
// network call: the write is a version compare-and-set.
type TokenService struct {
	store    driven.CredentialStore
	provider driven.OAuthProvider
	observer driven.RefreshObserver
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

// NewTokenService creates a TokenService. observer may be nil.
func NewTokenService(store driven.CredentialStore, provider driven.OAuthProvider, observer driven.RefreshObserver) *TokenService {
	if observer == nil {
		observer = noopObserver{}
	}
	return &TokenService{
		store:    store,
		provider: provider,
		observer: observer,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Refresh re-reads the credential and, if it is due or its expiry is
// unknown, exchanges its refresh token for a new access token. On any
// failure the stored credential is left unchanged. Concurrent callers share
// one exchange; a caller whose ctx ends stops waiting but the exchange
// completes for the others.
func (s *TokenService) Refresh(ctx context.Context, id int64) (RefreshResult, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		return s.refresh(detached, id)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight token refresh", "credential_id", id)
		}
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	case <-ctx.Done():
		return RefreshResult{}, fmt.Errorf("wait for token refresh: %w", ctx.Err())
	}
}

// EnsureFresh returns the active credential with an access token that is not
// due for refresh, refreshing it synchronously when needed.
func (s *TokenService) EnsureFresh(ctx context.Context) (*model.Credential, error) {
	cred, err := s.store.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || !cred.HasAccessToken() {
		return nil, ErrNotConnected
	}
	if !s.due(*cred) {
		return cred, nil
	}

	result, err := s.Refresh(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	return result.Credential, nil
}

// due reports whether a credential should be refreshed now. A missing
// expiry is treated as due.
func (s *TokenService) due(cred model.Credential) bool {
	return cred.AccessTokenExpiresAt.IsZero() || NeedsRefresh(cred, s.now())
}

func (s *TokenService) refresh(ctx context.Context, id int64) (RefreshResult, error) {
	cred, err := s.store.GetByID(ctx, id)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load credential %d: %w", id, err)
	}

	now := s.now()
	if cred.HasAccessToken() && !s.due(*cred) {
		return RefreshResult{Credential: cred}, nil
	}
	if cred.RefreshToken == "" {
		return RefreshResult{}, fmt.Errorf("refresh credential %d: %w", id, ErrNoRefreshToken)
	}
	if !RefreshTokenValid(*cred, now) {
		return RefreshResult{}, fmt.Errorf("refresh credential %d: %w", id, ErrRefreshTokenExpired)
	}

	s.logger.Info("refreshing access token",
		"credential_id", id, "expires_in", cred.AccessTokenExpiresAt.Sub(now).Round(time.Second).String())

	grant, err := s.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		s.observer.ObserveRefresh(driven.RefreshFailed)
		s.logger.Error("token refresh exchange failed", "credential_id", id, "error", err)
		return RefreshResult{}, fmt.Errorf("refresh credential %d: %w: %w", id, ErrOAuthExchangeFailed, err)
	}

	update := grant.Update(s.now(), DefaultAccessTokenTTL, DefaultRefreshTokenTTL)
	updated, err := s.store.CompareAndUpdate(ctx, id, cred.Version, update)
	if errors.Is(err, driven.ErrStaleCredential) {
		// Another writer landed first; its tokens are at least as new as ours.
		s.logger.Warn("credential changed during refresh, keeping newer write", "credential_id", id)
		latest, getErr := s.store.GetByID(ctx, id)
		if getErr != nil {
			return RefreshResult{}, fmt.Errorf("reload credential %d: %w", id, getErr)
		}
		s.observer.ObserveRefresh(driven.RefreshSucceeded)
		return RefreshResult{Credential: latest, Refreshed: true}, nil
	}
	if err != nil {
		s.observer.ObserveRefresh(driven.RefreshFailed)
		return RefreshResult{}, fmt.Errorf("store refreshed credential %d: %w", id, err)
	}

	s.observer.ObserveRefresh(driven.RefreshSucceeded)
	s.logger.Info("access token refreshed",
		"credential_id", id,
		"access_token_expires_at", updated.AccessTokenExpiresAt,
		"refresh_token_expires_at", updated.RefreshTokenExpiresAt,
		"refresh_token_rotated", grant.RefreshToken != "",
	)

	return RefreshResult{Credential: updated, Refreshed: true}, nil
}

type noopObserver struct{}

func (noopObserver) ObserveRefresh(driven.RefreshOutcome) {}
func (noopObserver) ObserveCycle(time.Duration)           {}
