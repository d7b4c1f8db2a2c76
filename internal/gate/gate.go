// ABOUTME: Access gate middleware: route classification plus session cookie shape check
// ABOUTME: Redirects unauthenticated page loads to /login with a 307

package gate

import (
	"log/slog"
	"net/http"
	"strings"
)

// SessionCookie is the name of the opaque session token cookie.
const SessionCookie = "notegate.session-token"

// Opaque tokens are 32 hex-encoded random bytes; the bounds are loose
// on purpose so a token format change does not lock everyone out.
const (
	minTokenLength = 10
	maxTokenLength = 500
)

// publicPrefixes are reachable without a session. Everything else is
// protected. Static assets are mounted outside the gate entirely.
var publicPrefixes = []string{
	"/login",
	"/unauthorized",
	"/api/auth/",
	"/api/validate-email",
}

// Public reports whether path is reachable without a session.
func Public(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// plausibleToken reports whether tok has the shape of a real session
// token. This is a cheap pre-filter, not verification.
func plausibleToken(tok string) bool {
	return len(tok) >= minTokenLength && len(tok) <= maxTokenLength
}

// Middleware wraps next with the access gate. Requests to protected
// paths without a plausible session cookie are redirected to /login.
func Middleware(logger *slog.Logger, next http.Handler) http.Handler {
	log := logger.With("component", "gate")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(SessionCookie)
		if err != nil || !plausibleToken(cookie.Value) {
			log.Debug("redirecting unauthenticated request", "path", r.URL.Path)
			http.Redirect(w, r, "/login", http.StatusTemporaryRedirect)
			return
		}

		next.ServeHTTP(w, r)
	})
}
