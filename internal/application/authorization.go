package application

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// IssueSecretKeyMissing is reported in ConnectionStatus when credential
// storage is unavailable because no encryption key is configured.
const IssueSecretKeyMissing = "secret_key_missing"

// schedulerControl is the part of RefreshScheduler the authorization flow uses.
type schedulerControl interface {
	Kick(ctx context.Context) error
	Snapshot() SchedulerSnapshot
}

// AuthorizationStart is what the browser needs to begin consent.
type AuthorizationStart struct {
	URL   string
	Nonce string // must come back with the callback, e.g. in a cookie
}

// AuthorizationCallback carries the query of the OAuth redirect plus the
// nonce presented by the browser.
type AuthorizationCallback struct {
	Code    string
	State   string
	RealmID string
	Nonce   string
}

// ConnectionStatus summarizes the QuickBooks connection for operators.
type ConnectionStatus struct {
	Connected             bool
	RealmID               string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	RefreshTokenValid     bool
	ConfigIssues          []string
	Scheduler             SchedulerSnapshot
}

// AuthorizationService runs the OAuth authorization-code flow and reports
// connection status.
type AuthorizationService struct {
	store        driven.CredentialStore
	provider     driven.OAuthProvider
	signer       *StateSigner
	scheduler    schedulerControl
	configIssues []string
	now          func() time.Time
	logger       *slog.Logger
}

// NewAuthorizationService creates an AuthorizationService. configIssues lists
// detected client misconfigurations to surface through Status.
func NewAuthorizationService(
	store driven.CredentialStore,
	provider driven.OAuthProvider,
	signer *StateSigner,
	scheduler schedulerControl,
	configIssues []string,
) *AuthorizationService {
	if configIssues == nil {
		configIssues = []string{}
	}
	return &AuthorizationService{
		store:        store,
		provider:     provider,
		signer:       signer,
		scheduler:    scheduler,
		configIssues: configIssues,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// BeginAuthorization ensures a credential slot exists and returns the consent
// URL whose state names that slot.
func (s *AuthorizationService) BeginAuthorization(ctx context.Context) (AuthorizationStart, error) {
	cred, err := s.store.EnsurePlaceholder(ctx)
	if err != nil {
		return AuthorizationStart{}, fmt.Errorf("prepare credential: %w", err)
	}

	nonce := uuid.NewString()
	state, err := s.signer.Sign(cred.ID, nonce)
	if err != nil {
		return AuthorizationStart{}, err
	}

	s.logger.Info("starting quickbooks authorization", "credential_id", cred.ID)
	return AuthorizationStart{URL: s.provider.AuthCodeURL(state), Nonce: nonce}, nil
}

// CompleteAuthorization verifies the callback, exchanges the code and stores
// the tokens, then kicks the refresh scheduler.
func (s *AuthorizationService) CompleteAuthorization(ctx context.Context, cb AuthorizationCallback) (*model.Credential, error) {
	if cb.State == "" {
		return nil, fmt.Errorf("%w: missing state", ErrInvalidState)
	}

	credentialID, nonce, err := s.signer.Verify(cb.State)
	if err != nil {
		return nil, err
	}
	if cb.Nonce == "" || subtle.ConstantTimeCompare([]byte(nonce), []byte(cb.Nonce)) != 1 {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	if cb.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidState)
	}

	if _, err := s.store.GetByID(ctx, credentialID); err != nil {
		if errors.Is(err, driven.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: unknown credential %d", ErrInvalidState, credentialID)
		}
		return nil, fmt.Errorf("load credential %d: %w", credentialID, err)
	}

	grant, err := s.provider.Exchange(ctx, cb.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOAuthExchangeFailed, err)
	}

	update := grant.Update(s.now(), DefaultAccessTokenTTL, DefaultRefreshTokenTTL)
	realmID := cb.RealmID
	update.RealmID = &realmID

	cred, err := s.store.Upsert(ctx, credentialID, update)
	if err != nil {
		return nil, fmt.Errorf("store authorized credential: %w", err)
	}

	s.logger.Info("quickbooks account connected",
		"credential_id", cred.ID, "realm_id", cred.RealmID,
		"access_token_expires_at", cred.AccessTokenExpiresAt)

	if err := s.scheduler.Kick(ctx); err != nil {
		s.logger.Error("failed to schedule token refresh after authorization", "error", err)
	}

	return cred, nil
}

// Status reports the connection state. A missing encryption key is reported
// as an issue rather than an error.
func (s *AuthorizationService) Status(ctx context.Context) (ConnectionStatus, error) {
	status := ConnectionStatus{
		ConfigIssues: append([]string{}, s.configIssues...),
		Scheduler:    s.scheduler.Snapshot(),
	}

	cred, err := s.store.Get(ctx)
	if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
		status.ConfigIssues = append(status.ConfigIssues, IssueSecretKeyMissing)
		return status, nil
	}
	if err != nil {
		return ConnectionStatus{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return status, nil
	}

	status.Connected = cred.Connected()
	status.RealmID = cred.RealmID
	status.AccessTokenExpiresAt = cred.AccessTokenExpiresAt
	status.RefreshTokenExpiresAt = cred.RefreshTokenExpiresAt
	status.RefreshTokenValid = RefreshTokenValid(*cred, s.now())
	return status, nil
}

// Disconnect deletes the active credential.
func (s *AuthorizationService) Disconnect(ctx context.Context) error {
	cred, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return ErrNotConnected
	}

	if err := s.store.Delete(ctx, cred.ID); err != nil {
		return err
	}
	s.logger.Info("quickbooks credential deleted", "credential_id", cred.ID, "realm_id", cred.RealmID)
	return nil
}
