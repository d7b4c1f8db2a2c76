// ABOUTME: The email validation endpoint behind the login page
// ABOUTME: Every denial path produces the same generic body

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fernwood/notegate/internal/allowlist"
	"github.com/fernwood/notegate/internal/mailaddr"
	"github.com/fernwood/notegate/internal/ratelimit"
)

// writeJSON emits a JSON body with the standard security headers.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

// handleValidateEmail checks whether an email may proceed to the
// passkey step. Check order: origin, rate limit, format, allowlist.
// Allowlist misses and backend denials share one response so callers
// cannot probe which emails exist.
func (s *Server) handleValidateEmail(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		s.writeMessage(w, http.StatusForbidden, "Forbidden")
		return
	}

	if err := s.limiter.Allow(r.Context(), ratelimit.ValidateEmail, ratelimit.ClientKey(r)); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			time.Sleep(ratelimit.JitterDelay())
			s.writeMessage(w, http.StatusTooManyRequests, "Too many requests")
		default:
			s.writeMessage(w, http.StatusInternalServerError, "Validation failed")
		}
		return
	}

	var req struct {
		Email any `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid email")
		return
	}

	email, err := mailaddr.Normalize(req.Email)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid email")
		return
	}

	if s.resolver == nil {
		s.logger.Error("allowlist resolver not configured")
		s.writeMessage(w, http.StatusInternalServerError, "Server misconfiguration")
		return
	}

	allowed, err := s.resolver.Authorized(r.Context(), email)
	if err != nil {
		if errors.Is(err, allowlist.ErrStoreUnavailable) {
			s.writeMessage(w, http.StatusInternalServerError, "Validation failed")
			return
		}
		s.logger.Error("allowlist resolution failed", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Validation failed")
		return
	}
	if !allowed {
		s.writeMessage(w, http.StatusForbidden, "Invalid credentials")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
