// ABOUTME: Tests for SQLite store: users, sessions, credentials, allowlist, notes
// ABOUTME: Uses a temporary on-disk database per test

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testUser(id, email string) *User {
	return &User{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_CreateUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.CreateUser(ctx, testUser("user-1", "me@example.com"))
	require.NoError(t, err)

	retrieved, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", retrieved.Email)

	byEmail, err := store.GetUserByEmail(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)
}

func TestStore_CreateUser_DuplicateEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	err := store.CreateUser(ctx, testUser("user-2", "me@example.com"))
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetUser(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_SeedAllowedEmails_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	inserted, err := store.SeedAllowedEmails(ctx, []string{" Me@Example.COM ", "partner@example.com", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted, "blank entries are skipped")

	// Second run inserts nothing new
	inserted, err = store.SeedAllowedEmails(ctx, []string{"me@example.com", "partner@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	count, err := store.CountAllowedEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_EmailAllowed_CaseInsensitive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.SeedAllowedEmails(ctx, []string{"test@example.com"})
	require.NoError(t, err)

	ok, err := store.EmailAllowed(ctx, "test@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.EmailAllowed(ctx, "Test@Example.COM")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.EmailAllowed(ctx, "other@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AllowlistTrigger_RejectsUnlistedEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.SeedAllowedEmails(ctx, []string{"me@example.com"})
	require.NoError(t, err)

	// Listed email passes the trigger
	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	// Unlisted email is rejected at the database level
	err = store.CreateUser(ctx, testUser("user-2", "intruder@example.com"))
	assert.ErrorIs(t, err, ErrEmailNotAllowed)
}

func TestStore_Sessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	session := &Session{
		ID:        "tok-abcdef0123456789",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	require.NoError(t, store.DeleteSession(ctx, session.ID))
	_, err = store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_GetSession_Expired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	session := &Session{
		ID:        "tok-expired123456",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	_, err := store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_DeleteExpiredSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	expired := &Session{
		ID:        "tok-expired123456",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	live := &Session{
		ID:        "tok-live1234567890",
		UserID:    "user-1",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, expired))
	require.NoError(t, store.CreateSession(ctx, live))

	require.NoError(t, store.DeleteExpiredSessions(ctx))

	_, err := store.GetSession(ctx, live.ID)
	assert.NoError(t, err)
}

func TestStore_WebAuthnCredentials(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	cred := &WebAuthnCredential{
		ID:              "cred-1",
		UserID:          "user-1",
		CredentialID:    []byte("raw-credential-id"),
		PublicKey:       []byte("public-key-bytes"),
		AttestationType: "none",
		Transports:      `["internal"]`,
		SignCount:       1,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateWebAuthnCredential(ctx, cred))

	byUser, err := store.GetWebAuthnCredentialsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, []byte("raw-credential-id"), byUser[0].CredentialID)

	byCredID, err := store.GetWebAuthnCredentialByCredentialID(ctx, []byte("raw-credential-id"))
	require.NoError(t, err)
	assert.Equal(t, "cred-1", byCredID.ID)

	require.NoError(t, store.UpdateWebAuthnCredentialSignCount(ctx, "cred-1", 7))
	updated, err := store.GetWebAuthnCredentialByCredentialID(ctx, []byte("raw-credential-id"))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), updated.SignCount)

	require.NoError(t, store.DeleteWebAuthnCredential(ctx, "cred-1"))
	_, err = store.GetWebAuthnCredentialByCredentialID(ctx, []byte("raw-credential-id"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Notes_CRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))

	note := &Note{
		ID:        "note-1",
		UserID:    "user-1",
		Title:     "Groceries",
		Body:      "- milk\n- eggs",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateNote(ctx, note))

	got, err := store.GetNote(ctx, "user-1", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Title)

	require.NoError(t, store.UpdateNote(ctx, "user-1", "note-1", "Groceries", "- milk"))
	got, err = store.GetNote(ctx, "user-1", "note-1")
	require.NoError(t, err)
	assert.Equal(t, "- milk", got.Body)

	notes, err := store.ListNotes(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	require.NoError(t, store.DeleteNote(ctx, "user-1", "note-1"))
	_, err = store.GetNote(ctx, "user-1", "note-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Notes_ScopedToUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, testUser("user-1", "me@example.com")))
	require.NoError(t, store.CreateUser(ctx, testUser("user-2", "partner@example.com")))

	note := &Note{
		ID:        "note-1",
		UserID:    "user-1",
		Title:     "Private",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateNote(ctx, note))

	_, err := store.GetNote(ctx, "user-2", "note-1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteNote(ctx, "user-2", "note-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
