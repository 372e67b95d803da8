package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
)

var (
	// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
	// SHIPTRACK_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SHIPTRACK_SECRET_KEY")

	// ErrCredentialNotFound is returned when a credential ID does not exist.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStaleCredential is returned by CompareAndUpdate when the stored
	// version no longer matches the version the caller read.
	ErrStaleCredential = errors.New("credential was modified concurrently")
)

// CredentialStore defines the driven port for OAuth credential persistence.
// The design holds a single active credential; List exists so the refresh
// scheduler can scan every stored row. Token values cross this boundary as
// plaintext; the adapter is responsible for encryption at rest.
type CredentialStore interface {
	// Get returns the active credential (lowest ID), or nil if none exists.
	Get(ctx context.Context) (*model.Credential, error)

	// GetByID returns the credential with the given ID, or ErrCredentialNotFound.
	GetByID(ctx context.Context, id int64) (*model.Credential, error)

	// List returns every stored credential ordered by ID.
	List(ctx context.Context) ([]model.Credential, error)

	// EnsurePlaceholder returns the active credential, creating an empty one
	// if none exists yet.
	EnsurePlaceholder(ctx context.Context) (*model.Credential, error)

	// Upsert merges the non-nil fields of update into the credential with the
	// given ID, creating it if absent, and bumps its version.
	Upsert(ctx context.Context, id int64, update model.CredentialUpdate) (*model.Credential, error)

	// CompareAndUpdate merges update only if the stored version still equals
	// version. Returns ErrStaleCredential otherwise.
	CompareAndUpdate(ctx context.Context, id, version int64, update model.CredentialUpdate) (*model.Credential, error)

	// Delete removes the credential with the given ID.
	Delete(ctx context.Context, id int64) error
}
