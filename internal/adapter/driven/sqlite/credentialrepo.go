package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ericfisherdev/shiptrack/internal/domain/model"
	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Access and refresh tokens are encrypted with AES-256-GCM before write and
// decrypted after read. Every write bumps the row version, which
// CompareAndUpdate uses for optimistic concurrency.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
	now func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key, now: time.Now}
}

const credentialColumns = `id, realm_id, access_token, access_token_expires_at, refresh_token,
	refresh_token_expires_at, version, created_at, updated_at`

// Get returns the active credential (lowest ID), or nil if none exists.
func (r *CredentialRepo) Get(ctx context.Context) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM quickbooks_credentials ORDER BY id LIMIT 1`
	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

// GetByID returns the credential with the given ID.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM quickbooks_credentials WHERE id = ?`
	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get credential %d: %w", id, driven.ErrCredentialNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}
	return cred, nil
}

// List returns all stored credentials with decrypted tokens.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	query := `SELECT ` + credentialColumns + ` FROM quickbooks_credentials ORDER BY id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// EnsurePlaceholder returns the active credential, inserting an empty row
// first if the table is empty. The check and insert share the writer
// connection inside one transaction.
func (r *CredentialRepo) EnsurePlaceholder(ctx context.Context) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin placeholder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT ` + credentialColumns + ` FROM quickbooks_credentials ORDER BY id LIMIT 1`
	cred, err := r.scanCredential(tx.QueryRowContext(ctx, query))
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	now := formatTime(r.now())
	const insert = `INSERT INTO quickbooks_credentials (version, created_at, updated_at) VALUES (1, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, now, now); err != nil {
		return nil, fmt.Errorf("insert placeholder credential: %w", err)
	}

	cred, err = r.scanCredential(tx.QueryRowContext(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("read placeholder credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit placeholder credential: %w", err)
	}
	return cred, nil
}

// Upsert merges update into the credential with the given ID, creating it if absent.
func (r *CredentialRepo) Upsert(ctx context.Context, id int64, update model.CredentialUpdate) (*model.Credential, error) {
	return r.write(ctx, id, -1, update)
}

// CompareAndUpdate merges update only if the stored version equals version.
func (r *CredentialRepo) CompareAndUpdate(ctx context.Context, id, version int64, update model.CredentialUpdate) (*model.Credential, error) {
	return r.write(ctx, id, version, update)
}

// write reads the current row, applies update and writes the merged row back
// in one transaction. A negative expectedVersion disables the version check
// and allows creating the row.
func (r *CredentialRepo) write(ctx context.Context, id, expectedVersion int64, update model.CredentialUpdate) (*model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credential tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := `SELECT ` + credentialColumns + ` FROM quickbooks_credentials WHERE id = ?`
	current, err := r.scanCredential(tx.QueryRowContext(ctx, selectQuery, id))
	exists := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion >= 0 {
			return nil, fmt.Errorf("update credential %d: %w", id, driven.ErrCredentialNotFound)
		}
		exists = false
		current = &model.Credential{}
	case err != nil:
		return nil, fmt.Errorf("get credential %d: %w", id, err)
	}

	if expectedVersion >= 0 && current.Version != expectedVersion {
		return nil, fmt.Errorf("update credential %d: %w", id, driven.ErrStaleCredential)
	}

	merged := applyCredentialUpdate(*current, update)

	accessToken, err := r.encryptNullable(merged.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := r.encryptNullable(merged.RefreshToken)
	if err != nil {
		return nil, err
	}

	now := formatTime(r.now())
	if exists {
		const updateQuery = `
			UPDATE quickbooks_credentials SET
				realm_id = ?, access_token = ?, access_token_expires_at = ?,
				refresh_token = ?, refresh_token_expires_at = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, updateQuery,
			nullString(merged.RealmID), accessToken, formatTime(merged.AccessTokenExpiresAt),
			refreshToken, formatTime(merged.RefreshTokenExpiresAt),
			now, id, current.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("update credential %d: %w", id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("check rows affected: %w", err)
		}
		if rows == 0 {
			return nil, fmt.Errorf("update credential %d: %w", id, driven.ErrStaleCredential)
		}
	} else {
		var idArg any
		if id > 0 {
			idArg = id
		}
		const insertQuery = `
			INSERT INTO quickbooks_credentials (
				id, realm_id, access_token, access_token_expires_at,
				refresh_token, refresh_token_expires_at, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`
		result, err := tx.ExecContext(ctx, insertQuery,
			idArg, nullString(merged.RealmID), accessToken, formatTime(merged.AccessTokenExpiresAt),
			refreshToken, formatTime(merged.RefreshTokenExpiresAt), now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert credential: %w", err)
		}
		if id <= 0 {
			id, err = result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("read credential id: %w", err)
			}
		}
	}

	stored, err := r.scanCredential(tx.QueryRowContext(ctx, selectQuery, id))
	if err != nil {
		return nil, fmt.Errorf("read credential %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credential %d: %w", id, err)
	}
	return stored, nil
}

// Delete removes the credential with the given ID.
func (r *CredentialRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM quickbooks_credentials WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete credential %d: %w", id, err)
	}
	return nil
}

func applyCredentialUpdate(c model.Credential, u model.CredentialUpdate) model.Credential {
	if u.RealmID != nil {
		c.RealmID = *u.RealmID
	}
	if u.AccessToken != nil {
		c.AccessToken = *u.AccessToken
	}
	if u.AccessTokenExpiresAt != nil {
		c.AccessTokenExpiresAt = *u.AccessTokenExpiresAt
	}
	if u.RefreshToken != nil {
		c.RefreshToken = *u.RefreshToken
	}
	if u.RefreshTokenExpiresAt != nil {
		c.RefreshTokenExpiresAt = *u.RefreshTokenExpiresAt
	}
	return c
}

func (r *CredentialRepo) scanCredential(s scanner) (*model.Credential, error) {
	var (
		cred                        model.Credential
		realmID                     sql.NullString
		accessToken, refreshToken   sql.NullString
		accessExpiry, refreshExpiry sql.NullString
		createdAt, updatedAt        string
	)

	err := s.Scan(&cred.ID, &realmID, &accessToken, &accessExpiry, &refreshToken,
		&refreshExpiry, &cred.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	cred.RealmID = realmID.String

	if accessToken.Valid && accessToken.String != "" {
		cred.AccessToken, err = r.decrypt(accessToken.String)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token for credential %d: %w", cred.ID, err)
		}
	}
	if refreshToken.Valid && refreshToken.String != "" {
		cred.RefreshToken, err = r.decrypt(refreshToken.String)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token for credential %d: %w", cred.ID, err)
		}
	}

	if cred.AccessTokenExpiresAt, err = parseNullTime(accessExpiry); err != nil {
		return nil, fmt.Errorf("parse access_token_expires_at: %w", err)
	}
	if cred.RefreshTokenExpiresAt, err = parseNullTime(refreshExpiry); err != nil {
		return nil, fmt.Errorf("parse refresh_token_expires_at: %w", err)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cred, nil
}

// encryptNullable encrypts a non-empty value; empty values are stored as NULL.
func (r *CredentialRepo) encryptNullable(plaintext string) (any, error) {
	if plaintext == "" {
		return nil, nil
	}
	return r.encrypt(plaintext)
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
