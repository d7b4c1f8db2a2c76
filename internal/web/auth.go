// ABOUTME: Login flow and passkey ceremony endpoints under /api/auth/
// ABOUTME: Backend failures surface only as generic categorized messages

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fernwood/notegate/internal/loginflow"
	"github.com/fernwood/notegate/internal/mailaddr"
	"github.com/fernwood/notegate/internal/ratelimit"
)

type flowRequest struct {
	FlowToken      string          `json:"flowToken"`
	Email          any             `json:"email,omitempty"`
	ChallengeToken string          `json:"challengeToken,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
}

func decodeFlowRequest(r *http.Request) (*flowRequest, error) {
	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// handleFlowStart creates a fresh login flow.
func (s *Server) handleFlowStart(w http.ResponseWriter, _ *http.Request) {
	token, err := s.flows.Start()
	if err != nil {
		s.logger.Error("failed to start login flow", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"flowToken": token})
}

// handleFlowEmail records the email and advances to the passkey step.
func (s *Server) handleFlowEmail(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	email, err := s.flows.SubmitEmail(req.FlowToken, req.Email)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

// handleFlowChangeEmail resets the flow to the email step.
func (s *Server) handleFlowChangeEmail(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := s.flows.ChangeEmail(req.FlowToken); err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authRateLimited applies the ceremony bucket and writes the response
// when the caller is over the limit or the counter is down.
func (s *Server) authRateLimited(w http.ResponseWriter, r *http.Request) bool {
	err := s.limiter.Allow(r.Context(), ratelimit.Auth, ratelimit.ClientKey(r))
	if err == nil {
		return false
	}
	if errors.Is(err, ratelimit.ErrRateLimited) {
		s.writeMessage(w, http.StatusTooManyRequests, "Too many requests")
		return true
	}
	s.logger.Error("auth rate limit check failed", "error", err)
	s.writeMessage(w, http.StatusInternalServerError, "Something went wrong")
	return true
}

// handleRegisterBegin ensures the account and starts registration.
func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if s.authRateLimited(w, r) {
		return
	}
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	opts, err := s.flows.BeginRegister(r.Context(), req.FlowToken)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

// handleRegisterFinish completes registration and signs the user in.
func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	userID, err := s.flows.FinishRegister(r.Context(), req.FlowToken, req.ChallengeToken, req.Response)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.finishLogin(w, r, userID)
}

// handleLoginBegin starts the fallback sign-in ceremony.
func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	if s.authRateLimited(w, r) {
		return
	}
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	opts, err := s.flows.BeginSignIn(r.Context(), req.FlowToken)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

// handleLoginFinish completes the sign-in ceremony.
func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFlowRequest(r)
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	userID, err := s.flows.FinishSignIn(r.Context(), req.FlowToken, req.ChallengeToken, req.Response)
	if err != nil {
		s.writeFlowError(w, err)
		return
	}
	s.finishLogin(w, r, userID)
}

// finishLogin issues the session cookie and tells the page where to go.
func (s *Server) finishLogin(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.authority.Issue(w, r, userID); err != nil {
		s.logger.Error("failed to issue session", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redirect": "/"})
}

// handleLogout destroys the session and returns to the login page.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.authority.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// writeFlowError maps flow errors onto generic client responses.
func (s *Server) writeFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loginflow.ErrFlowNotFound):
		s.writeMessage(w, http.StatusBadRequest, "Session expired, reload the page")
	case errors.Is(err, loginflow.ErrWrongStep):
		s.writeMessage(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, loginflow.ErrCoolingDown):
		s.writeMessage(w, http.StatusTooManyRequests, "Please wait before retrying")
	case errors.Is(err, loginflow.ErrNotAllowed):
		s.writeMessage(w, http.StatusForbidden, "Invalid credentials")
	case errors.Is(err, mailaddr.ErrInvalidType),
		errors.Is(err, mailaddr.ErrRequired),
		errors.Is(err, mailaddr.ErrTooLong),
		errors.Is(err, mailaddr.ErrInvalidFormat):
		s.writeMessage(w, http.StatusBadRequest, "Invalid email")
	default:
		s.logger.Error("login flow error", "error", err)
		s.writeMessage(w, http.StatusInternalServerError, "Something went wrong")
	}
}
