// ABOUTME: WebAuthn credential types and store methods
// ABOUTME: Credentials are looked up by opaque ID or raw credential ID

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WebAuthnCredential represents a passkey credential bound to a user.
type WebAuthnCredential struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	Transports      string // JSON array
	SignCount       uint32
	CreatedAt       time.Time
}

// CreateWebAuthnCredential stores a new WebAuthn credential.
func (s *SQLiteStore) CreateWebAuthnCredential(ctx context.Context, cred *WebAuthnCredential) error {
	query := `
		INSERT INTO webauthn_credentials (id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.CredentialID,
		cred.PublicKey,
		cred.AttestationType,
		cred.Transports,
		cred.SignCount,
		cred.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting webauthn credential: %w", err)
	}

	s.logger.Info("created webauthn credential", "id", cred.ID, "user_id", cred.UserID)
	return nil
}

// GetWebAuthnCredentialsByUser retrieves all WebAuthn credentials for a user.
func (s *SQLiteStore) GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*WebAuthnCredential, error) {
	query := `
		SELECT id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at
		FROM webauthn_credentials
		WHERE user_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying webauthn credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*WebAuthnCredential
	for rows.Next() {
		var cred WebAuthnCredential
		var createdAtStr string
		var transports sql.NullString

		if err := rows.Scan(
			&cred.ID,
			&cred.UserID,
			&cred.CredentialID,
			&cred.PublicKey,
			&cred.AttestationType,
			&transports,
			&cred.SignCount,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning webauthn credential: %w", err)
		}

		cred.Transports = transports.String
		cred.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		creds = append(creds, &cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webauthn credentials: %w", err)
	}

	return creds, nil
}

// GetWebAuthnCredentialByCredentialID retrieves a credential by its raw
// credential ID (the authenticator-assigned identifier).
func (s *SQLiteStore) GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error) {
	query := `
		SELECT id, user_id, credential_id, public_key, attestation_type, transports, sign_count, created_at
		FROM webauthn_credentials
		WHERE credential_id = ?
	`

	var cred WebAuthnCredential
	var createdAtStr string
	var transports sql.NullString

	err := s.db.QueryRowContext(ctx, query, credentialID).Scan(
		&cred.ID,
		&cred.UserID,
		&cred.CredentialID,
		&cred.PublicKey,
		&cred.AttestationType,
		&transports,
		&cred.SignCount,
		&createdAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying webauthn credential: %w", err)
	}

	cred.Transports = transports.String
	cred.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &cred, nil
}

// UpdateWebAuthnCredentialSignCount updates the sign count for a credential.
func (s *SQLiteStore) UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error {
	query := `UPDATE webauthn_credentials SET sign_count = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, signCount, id)
	if err != nil {
		return fmt.Errorf("updating webauthn sign count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteWebAuthnCredential deletes a WebAuthn credential.
func (s *SQLiteStore) DeleteWebAuthnCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM webauthn_credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting webauthn credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted webauthn credential", "id", id)
	return nil
}
