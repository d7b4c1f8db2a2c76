// ABOUTME: Allowed-email seeding and the users-table allowlist trigger
// ABOUTME: Seeding is idempotent; entries are inserted, never mutated

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SeedAllowedEmails idempotently inserts the given emails into the
// allowlist and installs the users-table trigger that independently
// re-validates any email written to users. Emails are normalized
// (trimmed, lowercased) before insertion; blanks are skipped.
// Returns the number of newly inserted entries.
func (s *SQLiteStore) SeedAllowedEmails(ctx context.Context, emails []string) (int, error) {
	if err := s.ensureAllowlistSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" {
			continue
		}
		result, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO allowed_emails (email, created_at) VALUES (?, ?)",
			email, now,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting allowed email: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing allowlist seed: %w", err)
	}

	s.logger.Info("seeded allowlist", "inserted", inserted, "total_input", len(emails))
	return inserted, nil
}

// ensureAllowlistSchema creates the allowed_emails table and the
// defense-in-depth trigger on users. The trigger aborts any user insert
// whose email is not present in the allowlist, so even code paths that
// bypass the resolver cannot create an unauthorized account.
func (s *SQLiteStore) ensureAllowlistSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS allowed_emails (
			email TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		);

		CREATE TRIGGER IF NOT EXISTS trg_users_email_allowlist
		BEFORE INSERT ON users
		WHEN NOT EXISTS (
			SELECT 1 FROM allowed_emails WHERE email = lower(trim(NEW.email))
		)
		BEGIN
			SELECT RAISE(ABORT, 'email not allowed');
		END;
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring allowlist schema: %w", err)
	}
	return nil
}

// EmailAllowed reports whether a normalized email is on the persistent
// allowlist. The comparison is case-insensitive on both sides.
func (s *SQLiteStore) EmailAllowed(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM allowed_emails WHERE email = lower(?) LIMIT 1",
		email,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountAllowedEmails returns the number of allowlist entries.
func (s *SQLiteStore) CountAllowedEmails(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM allowed_emails").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting allowed emails: %w", err)
	}
	return count, nil
}
