// ABOUTME: Tests for the /api/auth/ flow endpoints
// ABOUTME: Exercises flow start, email submission, and reset over HTTP

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func startFlow(t *testing.T, handler http.Handler) string {
	t.Helper()
	w := postJSON(t, handler, "/api/auth/flow/start", "{}")
	if w.Code != http.StatusOK {
		t.Fatalf("flow start: status = %d", w.Code)
	}
	var resp struct {
		FlowToken string `json:"flowToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding flow start response: %v", err)
	}
	if resp.FlowToken == "" {
		t.Fatal("empty flow token")
	}
	return resp.FlowToken
}

func TestAuthFlow_EmailSubmission(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()
	token := startFlow(t, handler)

	w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"  Me@Example.COM  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"email":"me@example.com"}` {
		t.Errorf("body = %q", got)
	}
}

func TestAuthFlow_InvalidEmailRejected(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})
	handler := srv.Handler()
	token := startFlow(t, handler)

	w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Invalid email"}` {
		t.Errorf("body = %q", got)
	}
}

func TestAuthFlow_UnknownFlowToken(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"bogus","email":"me@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuthFlow_ChangeEmailAllowsResubmission(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})
	handler := srv.Handler()
	token := startFlow(t, handler)

	if w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"me@example.com"}`); w.Code != http.StatusOK {
		t.Fatalf("first submit: status = %d", w.Code)
	}

	if w := postJSON(t, handler, "/api/auth/flow/change-email",
		`{"flowToken":"`+token+`"}`); w.Code != http.StatusOK {
		t.Fatalf("change email: status = %d", w.Code)
	}

	if w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"other@example.com"}`); w.Code != http.StatusOK {
		t.Fatalf("resubmit: status = %d", w.Code)
	}
}

func TestAuthFlow_RegisterBeginNotAllowlisted(t *testing.T) {
	srv := newTestServer(t, testServerOptions{
		allowedEmails: []string{"me@example.com"},
		production:    true,
		baseURL:       "https://notes.example.com",
	})
	handler := srv.Handler()
	token := startFlow(t, handler)

	if w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"intruder@example.com"}`); w.Code != http.StatusOK {
		t.Fatalf("submit: status = %d", w.Code)
	}

	w := postJSON(t, handler, "/api/auth/register/begin", `{"flowToken":"`+token+`"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"message":"Invalid credentials"}` {
		t.Errorf("body = %q", got)
	}
}

func TestAuthFlow_RegisterBeginAllowlisted(t *testing.T) {
	srv := newTestServer(t, testServerOptions{allowedEmails: []string{"me@example.com"}})
	handler := srv.Handler()
	token := startFlow(t, handler)

	if w := postJSON(t, handler, "/api/auth/flow/email",
		`{"flowToken":"`+token+`","email":"me@example.com"}`); w.Code != http.StatusOK {
		t.Fatalf("submit: status = %d", w.Code)
	}

	w := postJSON(t, handler, "/api/auth/register/begin", `{"flowToken":"`+token+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		ChallengeToken string `json:"challengeToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ChallengeToken == "" {
		t.Error("expected challenge token")
	}
}

func TestLogout_WithoutSession(t *testing.T) {
	srv := newTestServer(t, testServerOptions{})
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/auth/logout", "")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q", loc)
	}
}
