// ABOUTME: User types and store methods keyed by normalized email
// ABOUTME: Creation is subject to the allowlist trigger when installed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User represents an account holder. Email is stored lowercase-normalized
// and is the identity handle for the passkey ceremony.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// CreateUser creates a new user. Returns ErrEmailExists if the email is
// taken, or ErrEmailNotAllowed if the allowlist trigger rejects it.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEmailExists
		}
		if strings.Contains(err.Error(), "email not allowed") {
			return ErrEmailNotAllowed
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by normalized email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, display_name, created_at
		FROM users
		WHERE %s = ?
	`, column)

	var user User
	var displayName sql.NullString
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Email,
		&displayName,
		&createdAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.DisplayName = displayName.String
	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}
