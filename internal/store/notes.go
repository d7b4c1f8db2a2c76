// ABOUTME: Note types and CRUD store methods
// ABOUTME: Flat per-user list, markdown body stored verbatim

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Note is a single markdown note owned by a user.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateNote creates a new note.
func (s *SQLiteStore) CreateNote(ctx context.Context, note *Note) error {
	query := `
		INSERT INTO notes (id, user_id, title, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		note.ID,
		note.UserID,
		note.Title,
		note.Body,
		note.CreatedAt.UTC().Format(time.RFC3339),
		note.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}

	s.logger.Debug("created note", "id", note.ID, "user_id", note.UserID)
	return nil
}

// GetNote retrieves a note by ID, scoped to the owning user.
func (s *SQLiteStore) GetNote(ctx context.Context, userID, id string) (*Note, error) {
	query := `
		SELECT id, user_id, title, body, created_at, updated_at
		FROM notes
		WHERE id = ? AND user_id = ?
	`

	var note Note
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, id, userID).Scan(
		&note.ID,
		&note.UserID,
		&note.Title,
		&note.Body,
		&createdAtStr,
		&updatedAtStr,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}

	note.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	note.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &note, nil
}

// ListNotes returns a user's notes, most recently updated first.
func (s *SQLiteStore) ListNotes(ctx context.Context, userID string, limit int) ([]*Note, error) {
	query := `
		SELECT id, user_id, title, body, created_at, updated_at
		FROM notes
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*Note
	for rows.Next() {
		var note Note
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&note.ID, &note.UserID, &note.Title, &note.Body, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}

		note.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		note.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		notes = append(notes, &note)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notes: %w", err)
	}

	return notes, nil
}

// UpdateNote updates a note's title and body, scoped to the owning user.
func (s *SQLiteStore) UpdateNote(ctx context.Context, userID, id, title, body string) error {
	query := `
		UPDATE notes
		SET title = ?, body = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		title, body, time.Now().UTC().Format(time.RFC3339), id, userID,
	)
	if err != nil {
		return fmt.Errorf("updating note: %w", err)
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

// DeleteNote deletes a note, scoped to the owning user.
func (s *SQLiteStore) DeleteNote(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted note", "id", id)
	return nil
}
