package application_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shiptrack/internal/application"
	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

type fakeSchedulerControl struct {
	kicks   int
	kickErr error
	snap    application.SchedulerSnapshot
}

func (f *fakeSchedulerControl) Kick(context.Context) error {
	f.kicks++
	return f.kickErr
}

func (f *fakeSchedulerControl) Snapshot() application.SchedulerSnapshot {
	return f.snap
}

func newTestAuthorization(store *memCredentialStore, provider *mockOAuthProvider) (*application.AuthorizationService, *fakeSchedulerControl) {
	scheduler := &fakeSchedulerControl{}
	signer := application.NewStateSigner([]byte("test-secret"))
	return application.NewAuthorizationService(store, provider, signer, scheduler, nil), scheduler
}

func exchangeGrant(_ context.Context, code string) (model.TokenGrant, error) {
	if code != "auth-code" {
		return model.TokenGrant{}, errors.New("invalid_grant")
	}
	return model.TokenGrant{
		AccessToken:     "access-1",
		AccessTokenTTL:  time.Hour,
		RefreshToken:    "refresh-1",
		RefreshTokenTTL: 101 * 24 * time.Hour,
	}, nil
}

func beginAuthorization(t *testing.T, svc *application.AuthorizationService) (state, nonce string) {
	t.Helper()
	start, err := svc.BeginAuthorization(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(start.URL)
	require.NoError(t, err)
	return u.Query().Get("state"), start.Nonce
}

func TestAuthorization_BeginCreatesPlaceholder(t *testing.T) {
	store := newMemCredentialStore()
	svc, _ := newTestAuthorization(store, &mockOAuthProvider{exchange: exchangeGrant})

	state, nonce := beginAuthorization(t, svc)

	assert.NotEmpty(t, state)
	assert.NotEmpty(t, nonce)
	creds, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.False(t, creds[0].HasAccessToken())
}

func TestAuthorization_CompleteStoresTokensAndKicksScheduler(t *testing.T) {
	store := newMemCredentialStore()
	svc, scheduler := newTestAuthorization(store, &mockOAuthProvider{exchange: exchangeGrant})
	state, nonce := beginAuthorization(t, svc)

	before := time.Now()
	cred, err := svc.CompleteAuthorization(context.Background(), application.AuthorizationCallback{
		Code:    "auth-code",
		State:   state,
		RealmID: "9130350",
		Nonce:   nonce,
	})

	require.NoError(t, err)
	assert.Equal(t, "9130350", cred.RealmID)
	assert.Equal(t, "access-1", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), cred.AccessTokenExpiresAt, 5*time.Second)
	assert.WithinDuration(t, before.Add(101*24*time.Hour), cred.RefreshTokenExpiresAt, 5*time.Second)
	assert.Equal(t, 1, scheduler.kicks)

	creds, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, creds, 1, "callback fills the placeholder rather than adding a row")
}

func TestAuthorization_CompleteKickFailureStillSucceeds(t *testing.T) {
	store := newMemCredentialStore()
	svc, scheduler := newTestAuthorization(store, &mockOAuthProvider{exchange: exchangeGrant})
	scheduler.kickErr = errors.New("database is locked")
	state, nonce := beginAuthorization(t, svc)

	_, err := svc.CompleteAuthorization(context.Background(), application.AuthorizationCallback{
		Code: "auth-code", State: state, RealmID: "1", Nonce: nonce,
	})

	require.NoError(t, err)
}

func TestAuthorization_CompleteRejectsBadCallbacks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cb *application.AuthorizationCallback)
	}{
		{"missing state", func(cb *application.AuthorizationCallback) { cb.State = "" }},
		{"forged state", func(cb *application.AuthorizationCallback) { cb.State += "x" }},
		{"nonce mismatch", func(cb *application.AuthorizationCallback) { cb.Nonce = "someone-else" }},
		{"missing nonce", func(cb *application.AuthorizationCallback) { cb.Nonce = "" }},
		{"missing code", func(cb *application.AuthorizationCallback) { cb.Code = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemCredentialStore()
			exchanged := false
			provider := &mockOAuthProvider{exchange: func(ctx context.Context, code string) (model.TokenGrant, error) {
				exchanged = true
				return exchangeGrant(ctx, code)
			}}
			svc, scheduler := newTestAuthorization(store, provider)
			state, nonce := beginAuthorization(t, svc)

			cb := application.AuthorizationCallback{Code: "auth-code", State: state, RealmID: "1", Nonce: nonce}
			tt.mutate(&cb)
			_, err := svc.CompleteAuthorization(context.Background(), cb)

			require.ErrorIs(t, err, application.ErrInvalidState)
			assert.False(t, exchanged)
			assert.Zero(t, scheduler.kicks)
		})
	}
}

func TestAuthorization_CompleteUnknownCredential(t *testing.T) {
	store := newMemCredentialStore()
	svc, _ := newTestAuthorization(store, &mockOAuthProvider{exchange: exchangeGrant})
	state, nonce := beginAuthorization(t, svc)
	require.NoError(t, store.Delete(context.Background(), 1))

	_, err := svc.CompleteAuthorization(context.Background(), application.AuthorizationCallback{
		Code: "auth-code", State: state, RealmID: "1", Nonce: nonce,
	})

	require.ErrorIs(t, err, application.ErrInvalidState)
}

func TestAuthorization_CompleteExchangeFailureLeavesPlaceholder(t *testing.T) {
	store := newMemCredentialStore()
	svc, scheduler := newTestAuthorization(store, &mockOAuthProvider{exchange: exchangeGrant})
	state, nonce := beginAuthorization(t, svc)

	_, err := svc.CompleteAuthorization(context.Background(), application.AuthorizationCallback{
		Code: "wrong-code", State: state, RealmID: "1", Nonce: nonce,
	})

	require.ErrorIs(t, err, application.ErrOAuthExchangeFailed)
	assert.False(t, store.snapshot(1).HasAccessToken())
	assert.Zero(t, scheduler.kicks)
}

func TestAuthorization_Status(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		store := newMemCredentialStore(connectedCredential(time.Hour))
		svc, _ := newTestAuthorization(store, &mockOAuthProvider{})

		status, err := svc.Status(context.Background())

		require.NoError(t, err)
		assert.True(t, status.Connected)
		assert.Equal(t, "9130350", status.RealmID)
		assert.True(t, status.RefreshTokenValid)
		assert.Empty(t, status.ConfigIssues)
	})

	t.Run("nothing stored", func(t *testing.T) {
		svc, _ := newTestAuthorization(newMemCredentialStore(), &mockOAuthProvider{})

		status, err := svc.Status(context.Background())

		require.NoError(t, err)
		assert.False(t, status.Connected)
	})

	t.Run("missing encryption key is an issue", func(t *testing.T) {
		store := newMemCredentialStore()
		store.getErr = driven.ErrEncryptionKeyNotSet
		scheduler := &fakeSchedulerControl{}
		svc := application.NewAuthorizationService(store, &mockOAuthProvider{},
			application.NewStateSigner([]byte("k")), scheduler, []string{"client_id_missing"})

		status, err := svc.Status(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"client_id_missing", application.IssueSecretKeyMissing}, status.ConfigIssues)
	})
}

func TestAuthorization_Disconnect(t *testing.T) {
	store := newMemCredentialStore(connectedCredential(time.Hour))
	svc, _ := newTestAuthorization(store, &mockOAuthProvider{})

	require.NoError(t, svc.Disconnect(context.Background()))

	creds, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, creds)

	err = svc.Disconnect(context.Background())
	require.ErrorIs(t, err, application.ErrNotConnected)
}
