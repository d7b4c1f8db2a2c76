// ABOUTME: Tests for the email validation endpoint
// ABOUTME: Checks the status/body matrix, headers, and anti-enumeration property

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postValidate(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/api/validate-email", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestValidateEmail_Authorized(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	w := postValidate(t, handler, `{"email":"  Me@Example.COM  "}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}
}

func TestValidateEmail_SecurityHeaders(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	// Headers must be present on success and on denial alike.
	for _, body := range []string{`{"email":"me@example.com"}`, `{"email":"nope@example.com"}`, `{"email":42}`} {
		w := postValidate(t, handler, body, nil)
		if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
			t.Errorf("body %s: X-Content-Type-Options = %q", body, got)
		}
		if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
			t.Errorf("body %s: X-Frame-Options = %q", body, got)
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store, no-cache, must-revalidate, private" {
			t.Errorf("body %s: Cache-Control = %q", body, got)
		}
	}
}

func TestValidateEmail_InvalidInputs(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	tests := []string{
		`{"email":"not-an-email"}`,
		`{"email":123}`,
		`{"email":""}`,
		`{"email":"` + strings.Repeat("a", 250) + `@test.com"}`,
		`{`,
		`{}`,
	}
	for _, body := range tests {
		w := postValidate(t, handler, body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Invalid email"}` {
			t.Errorf("body %s: response = %q", body, got)
		}
	}
}

func TestValidateEmail_Denied(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	w := postValidate(t, handler, `{"email":"intruder@example.com"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Invalid credentials"}` {
		t.Errorf("response = %q", got)
	}
}

func TestValidateEmail_DenialsAreByteIdentical(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	first := postValidate(t, handler, `{"email":"a@example.com"}`, nil)
	second := postValidate(t, handler, `{"email":"b@example.com"}`, nil)

	if first.Code != second.Code {
		t.Errorf("status codes differ: %d vs %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("denial bodies differ: %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestValidateEmail_OriginCheck(t *testing.T) {
	srv := newTestServer(t, testServerOptions{
		allowedEmails: []string{"me@example.com"},
		production:    true,
		baseURL:       "https://notes.example.com",
	})
	handler := srv.Handler()

	// Mismatched origin is refused before anything else runs.
	w := postValidate(t, handler, `{"email":"me@example.com"}`, map[string]string{
		"Origin": "https://evil.example.com",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Forbidden"}` {
		t.Errorf("response = %q", got)
	}

	// Matching origin proceeds.
	w = postValidate(t, handler, `{"email":"me@example.com"}`, map[string]string{
		"Origin": "https://notes.example.com",
	})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// No Origin header (same-origin fetch or non-browser client) passes.
	w = postValidate(t, handler, `{"email":"me@example.com"}`, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestValidateEmail_GetNotAllowed(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()

	r := httptest.NewRequest("GET", "/api/validate-email", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
