// ABOUTME: Session authority: account creation, passkey ceremonies, opaque tokens
// ABOUTME: All denial paths collapse into generic sentinel errors

package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/fernwood/notegate/internal/allowlist"
	"github.com/fernwood/notegate/internal/gate"
	"github.com/fernwood/notegate/internal/store"
)

// SessionDuration is how long an issued session token stays valid.
const SessionDuration = 7 * 24 * time.Hour

var (
	// ErrNotAllowed covers every refusal to create an account or sign
	// in. Callers must not distinguish why.
	ErrNotAllowed = errors.New("not allowed")

	// ErrCeremonyFailed indicates a WebAuthn ceremony did not verify.
	ErrCeremonyFailed = errors.New("authentication ceremony failed")
)

// Store is the persistence surface the authority needs.
type Store interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateSession(ctx context.Context, session *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CreateWebAuthnCredential(ctx context.Context, cred *store.WebAuthnCredential) error
	GetWebAuthnCredentialsByUser(ctx context.Context, userID string) ([]*store.WebAuthnCredential, error)
	GetWebAuthnCredentialByCredentialID(ctx context.Context, credentialID []byte) (*store.WebAuthnCredential, error)
	UpdateWebAuthnCredentialSignCount(ctx context.Context, id string, signCount uint32) error
}

// Authority runs passkey ceremonies and manages session tokens.
type Authority struct {
	store      Store
	resolver   *allowlist.Resolver
	webauthn   *webauthn.WebAuthn
	challenges *challengeStore
	logger     *slog.Logger
}

// New creates the authority. baseURL shapes the WebAuthn relying-party
// configuration.
func New(st Store, resolver *allowlist.Resolver, baseURL string, logger *slog.Logger) (*Authority, error) {
	rpID, rpOrigins := deriveWebAuthnConfig(baseURL)

	w, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "notegate",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}

	return &Authority{
		store:      st,
		resolver:   resolver,
		webauthn:   w,
		challenges: newChallengeStore(),
		logger:     logger.With("component", "session"),
	}, nil
}

// Close stops background cleanup.
func (a *Authority) Close() {
	a.challenges.Close()
}

// EnsureAccount returns the account for a normalized email, creating
// it if the allowlist permits. An existing account is not an error;
// the login flow retries registration against it.
func (a *Authority) EnsureAccount(ctx context.Context, email string) (*store.User, error) {
	if existing, err := a.store.GetUserByEmail(ctx, email); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	allowed, err := a.resolver.Authorized(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolving allowlist: %w", err)
	}
	if !allowed {
		return nil, ErrNotAllowed
	}

	user := &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			// Lost a race with a concurrent signup for the same email.
			return a.store.GetUserByEmail(ctx, email)
		}
		if errors.Is(err, store.ErrEmailNotAllowed) {
			// The database trigger is the last line of defense.
			return nil, ErrNotAllowed
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	a.logger.Info("account created", "user_id", user.ID)
	return user, nil
}

// CeremonyOptions is what a begin call returns to the browser: the
// protocol options plus the challenge token to echo back on finish.
type CeremonyOptions struct {
	Options        any    `json:"options"`
	ChallengeToken string `json:"challengeToken"`
}

// RegisterBegin starts passkey registration for an existing account.
func (a *Authority) RegisterBegin(ctx context.Context, userID string) (*CeremonyOptions, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	existingCreds, err := a.store.GetWebAuthnCredentialsByUser(ctx, userID)
	if err != nil {
		a.logger.Error("failed to load existing credentials", "error", err)
		existingCreds = nil
	}

	waUser := &webAuthnUser{user: user, creds: existingCreds}
	options, session, err := a.webauthn.BeginRegistration(waUser)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generating challenge token: %w", err)
	}
	a.challenges.Set(token, session, userID)

	return &CeremonyOptions{Options: options, ChallengeToken: token}, nil
}

// RegisterFinish completes registration and stores the new credential.
func (a *Authority) RegisterFinish(ctx context.Context, userID, challengeToken string, response []byte) error {
	session, sessionUserID, ok := a.challenges.Get(challengeToken)
	if !ok || sessionUserID != userID {
		return ErrCeremonyFailed
	}
	a.challenges.Delete(challengeToken)

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		a.logger.Error("failed to parse registration response", "error", err)
		return ErrCeremonyFailed
	}

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	existingCreds, _ := a.store.GetWebAuthnCredentialsByUser(ctx, userID)
	waUser := &webAuthnUser{user: user, creds: existingCreds}

	credential, err := a.webauthn.CreateCredential(waUser, *session, parsed)
	if err != nil {
		a.logger.Error("failed to verify credential", "error", err)
		return ErrCeremonyFailed
	}

	if _, err := a.storeCredential(ctx, userID, credential); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	a.logger.Info("passkey registered", "user_id", userID)
	return nil
}

// LoginBegin starts a discoverable (usernameless) passkey login.
func (a *Authority) LoginBegin(ctx context.Context) (*CeremonyOptions, error) {
	options, session, err := a.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("generating challenge token: %w", err)
	}
	a.challenges.Set(token, session, "")

	return &CeremonyOptions{Options: options, ChallengeToken: token}, nil
}

// LoginFinish validates the assertion and returns the signed-in user.
func (a *Authority) LoginFinish(ctx context.Context, challengeToken string, response []byte) (*store.User, error) {
	session, _, ok := a.challenges.Get(challengeToken)
	if !ok {
		return nil, ErrCeremonyFailed
	}
	a.challenges.Delete(challengeToken)

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		a.logger.Error("failed to parse login response", "error", err)
		return nil, ErrCeremonyFailed
	}

	storedCred, err := a.store.GetWebAuthnCredentialByCredentialID(ctx, parsed.RawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCeremonyFailed
		}
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	user, err := a.store.GetUser(ctx, storedCred.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	allCreds, _ := a.store.GetWebAuthnCredentialsByUser(ctx, user.ID)
	waUser := &webAuthnUser{user: user, creds: allCreds}

	credential, err := a.webauthn.ValidateDiscoverableLogin(credentialFinder(waUser, user.ID), *session, parsed)
	if err != nil {
		a.logger.Error("failed to validate login", "error", err)
		return nil, ErrCeremonyFailed
	}

	if err := a.store.UpdateWebAuthnCredentialSignCount(ctx, storedCred.ID, credential.Authenticator.SignCount); err != nil {
		a.logger.Warn("failed to update sign count", "error", err)
	}

	a.logger.Info("passkey login successful", "user_id", user.ID)
	return user, nil
}

// credentialFinder builds the lookup callback for discoverable login
// validation.
func credentialFinder(waUser *webAuthnUser, userID string) func(rawID, userHandle []byte) (webauthn.User, error) {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != userID {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}
}

func (a *Authority) storeCredential(ctx context.Context, userID string, cred *webauthn.Credential) (string, error) {
	credID, err := generateSecureToken(16)
	if err != nil {
		return "", err
	}

	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		return "", err
	}

	storeCred := &store.WebAuthnCredential{
		ID:              credID,
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      string(transportsJSON),
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       time.Now().UTC(),
	}

	if err := a.store.CreateWebAuthnCredential(ctx, storeCred); err != nil {
		return "", err
	}
	return credID, nil
}

// Issue creates a session row and sets the session cookie.
func (a *Authority) Issue(w http.ResponseWriter, r *http.Request, userID string) error {
	token, err := generateSecureToken(32)
	if err != nil {
		return fmt.Errorf("generating session token: %w", err)
	}

	session := &store.Session{
		ID:        token,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(SessionDuration),
	}
	if err := a.store.CreateSession(r.Context(), session); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     gate.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Verify resolves a session token to its user. An unknown or expired
// token returns ErrNotAllowed.
func (a *Authority) Verify(ctx context.Context, token string) (*store.User, error) {
	session, err := a.store.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrNotAllowed
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	user, err := a.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}
	return user, nil
}

// Logout deletes the session row and clears the cookie.
func (a *Authority) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(gate.SessionCookie); err == nil {
		_ = a.store.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     gate.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// generateSecureToken returns hex-encoded cryptographically random bytes.
func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
