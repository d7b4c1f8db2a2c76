// ABOUTME: WebAuthn plumbing: user adapter, challenge store, relying-party config
// ABOUTME: Challenge sessions live in memory and expire after five minutes

package session

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/fernwood/notegate/internal/store"
)

// webAuthnUser wraps a store.User to satisfy the webauthn.User interface.
type webAuthnUser struct {
	user  *store.User
	creds []*store.WebAuthnCredential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Email
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// challengeData holds one in-progress WebAuthn ceremony.
type challengeData struct {
	session   *webauthn.SessionData
	userID    string
	expiresAt time.Time
}

// challengeStore keeps in-progress ceremonies in memory, keyed by an
// opaque token handed to the browser.
type challengeStore struct {
	mu         sync.RWMutex
	challenges map[string]*challengeData
	cancel     context.CancelFunc
}

func newChallengeStore() *challengeStore {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &challengeStore{
		challenges: make(map[string]*challengeData),
		cancel:     cancel,
	}
	go cs.cleanupLoop(ctx)
	return cs
}

// Close stops the cleanup goroutine.
func (s *challengeStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *challengeStore) Set(token string, session *webauthn.SessionData, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[token] = &challengeData{
		session:   session,
		userID:    userID,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
}

func (s *challengeStore) Get(token string) (*webauthn.SessionData, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.challenges[token]
	if !ok || time.Now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.userID, true
}

func (s *challengeStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, token)
}

func (s *challengeStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.challenges {
				if now.After(v.expiresAt) {
					delete(s.challenges, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns localhost defaults if the URL is empty or unparseable.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	rpID = host
	rpOrigins = []string{baseURL}
	if parsed.Scheme == "https" {
		rpOrigins = append(rpOrigins, "http://"+parsed.Host)
	} else {
		rpOrigins = append(rpOrigins, "https://"+parsed.Host)
	}
	return rpID, rpOrigins
}
