// ABOUTME: Login flow state machine: email step, passkey step, cooldown
// ABOUTME: Bounds each backend call with its own timeout

package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fernwood/notegate/internal/mailaddr"
	"github.com/fernwood/notegate/internal/session"
	"github.com/fernwood/notegate/internal/store"
)

// Step identifies where a flow currently is.
type Step string

const (
	StepEmail   Step = "email"
	StepPasskey Step = "passkey"
)

const (
	// ensureTimeout bounds account lookup/creation.
	ensureTimeout = 3 * time.Second

	// ceremonyTimeout bounds a full WebAuthn round trip, which includes
	// the user interacting with their authenticator.
	ceremonyTimeout = 30 * time.Second

	// cooldown is the forced pause after a failed passkey attempt.
	cooldown = 5 * time.Second

	// flowTTL is how long an abandoned flow lingers before cleanup.
	flowTTL = 15 * time.Minute
)

var (
	// ErrFlowNotFound means the flow token is unknown or expired.
	ErrFlowNotFound = errors.New("login flow not found")

	// ErrWrongStep means the operation does not match the flow's step.
	ErrWrongStep = errors.New("operation not valid for current step")

	// ErrCoolingDown means a failed attempt is still being penalized.
	ErrCoolingDown = errors.New("cooling down after failed attempt")

	// ErrNotAllowed mirrors the authority's generic refusal.
	ErrNotAllowed = errors.New("not allowed")
)

// Authority is the slice of the session authority the flow needs.
type Authority interface {
	EnsureAccount(ctx context.Context, email string) (*store.User, error)
	RegisterBegin(ctx context.Context, userID string) (*session.CeremonyOptions, error)
	RegisterFinish(ctx context.Context, userID, challengeToken string, response []byte) error
	LoginBegin(ctx context.Context) (*session.CeremonyOptions, error)
	LoginFinish(ctx context.Context, challengeToken string, response []byte) (*store.User, error)
}

// flowState is one in-progress login.
type flowState struct {
	step      Step
	email     string
	userID    string
	createdAt time.Time

	// lastFailed starts the cooldown between whole passkey attempts.
	lastFailed time.Time

	// fallbackPending keeps one sign-in ceremony open after a failed
	// registration: register and sign-in form a single attempt, so the
	// cooldown must not block the in-attempt fallback.
	fallbackPending bool
}

// Controller owns all in-progress login flows.
type Controller struct {
	mu        sync.Mutex
	flows     map[string]*flowState
	authority Authority
	logger    *slog.Logger
	cancel    context.CancelFunc

	// now is swappable for cooldown tests.
	now func() time.Time
}

// New creates a controller and starts its cleanup loop.
func New(authority Authority, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		flows:     make(map[string]*flowState),
		authority: authority,
		logger:    logger.With("component", "loginflow"),
		cancel:    cancel,
		now:       time.Now,
	}
	go c.cleanupLoop(ctx)
	return c
}

// Close stops background cleanup.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Start creates a new flow at the email step and returns its token.
func (c *Controller) Start() (string, error) {
	token, err := newFlowToken()
	if err != nil {
		return "", fmt.Errorf("generating flow token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.flows[token] = &flowState{
		step:      StepEmail,
		createdAt: c.now(),
	}
	return token, nil
}

// State returns a flow's current step and email.
func (c *Controller) State(token string) (Step, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[token]
	if !ok {
		return "", "", ErrFlowNotFound
	}
	return f.step, f.email, nil
}

// SubmitEmail normalizes and records the address, advancing the flow
// to the passkey step. The raw value comes straight from the request
// body, so the type check happens here.
func (c *Controller) SubmitEmail(token string, raw any) (string, error) {
	email, err := mailaddr.Normalize(raw)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[token]
	if !ok {
		return "", ErrFlowNotFound
	}
	if f.step != StepEmail {
		return "", ErrWrongStep
	}

	f.email = email
	f.step = StepPasskey
	return email, nil
}

// ChangeEmail resets a flow back to the email step, discarding the
// recorded address and any pending cooldown.
func (c *Controller) ChangeEmail(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[token]
	if !ok {
		return ErrFlowNotFound
	}

	f.step = StepEmail
	f.email = ""
	f.userID = ""
	f.lastFailed = time.Time{}
	f.fallbackPending = false
	return nil
}

// BeginRegister ensures the account exists and starts a registration
// ceremony for it.
func (c *Controller) BeginRegister(ctx context.Context, token string) (*session.CeremonyOptions, error) {
	email, err := c.passkeyStepEmail(token)
	if err != nil {
		return nil, err
	}

	ensureCtx, ensureCancel := context.WithTimeout(ctx, ensureTimeout)
	defer ensureCancel()
	var userID string
	user, err := c.authority.EnsureAccount(ensureCtx, email)
	switch {
	case err == nil:
		userID = user.ID
		c.mu.Lock()
		if f, ok := c.flows[token]; ok {
			f.userID = userID
		}
		c.mu.Unlock()
	case errors.Is(err, session.ErrNotAllowed):
		c.recordFailure(token)
		return nil, ErrNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		// A slow ensure is abandoned, not fatal: registration proceeds
		// when an earlier attempt on this flow already resolved the
		// account. A fresh flow has nothing to register against, so
		// there the error stands and the client moves on to sign-in.
		c.mu.Lock()
		if f, ok := c.flows[token]; ok {
			userID = f.userID
		}
		c.mu.Unlock()
		if userID == "" {
			return nil, fmt.Errorf("ensuring account: %w", err)
		}
	default:
		return nil, fmt.Errorf("ensuring account: %w", err)
	}

	regCtx, regCancel := context.WithTimeout(ctx, ceremonyTimeout)
	defer regCancel()
	opts, err := c.authority.RegisterBegin(regCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}
	return opts, nil
}

// FinishRegister completes the registration ceremony.
func (c *Controller) FinishRegister(ctx context.Context, token, challengeToken string, response []byte) (string, error) {
	c.mu.Lock()
	f, ok := c.flows[token]
	var userID string
	if ok {
		userID = f.userID
	}
	c.mu.Unlock()
	if !ok {
		return "", ErrFlowNotFound
	}
	if userID == "" {
		return "", ErrWrongStep
	}

	finishCtx, cancel := context.WithTimeout(ctx, ceremonyTimeout)
	defer cancel()
	if err := c.authority.RegisterFinish(finishCtx, userID, challengeToken, response); err != nil {
		c.failRegistration(token)
		if errors.Is(err, session.ErrCeremonyFailed) {
			return "", ErrNotAllowed
		}
		return "", fmt.Errorf("finishing registration: %w", err)
	}

	c.complete(token)
	return userID, nil
}

// BeginSignIn starts the fallback discoverable sign-in ceremony, used
// when the authenticator already holds a credential for this account.
func (c *Controller) BeginSignIn(ctx context.Context, token string) (*session.CeremonyOptions, error) {
	if _, err := c.signInStepEmail(token); err != nil {
		return nil, err
	}

	loginCtx, cancel := context.WithTimeout(ctx, ceremonyTimeout)
	defer cancel()
	opts, err := c.authority.LoginBegin(loginCtx)
	if err != nil {
		return nil, fmt.Errorf("beginning sign-in: %w", err)
	}
	return opts, nil
}

// FinishSignIn completes the sign-in ceremony and returns the user ID.
// The signed-in account must match the email the flow collected.
func (c *Controller) FinishSignIn(ctx context.Context, token, challengeToken string, response []byte) (string, error) {
	email, err := c.passkeyStepEmail(token)
	if err != nil {
		return "", err
	}

	finishCtx, cancel := context.WithTimeout(ctx, ceremonyTimeout)
	defer cancel()
	user, err := c.authority.LoginFinish(finishCtx, challengeToken, response)
	if err != nil {
		c.recordFailure(token)
		if errors.Is(err, session.ErrCeremonyFailed) {
			return "", ErrNotAllowed
		}
		return "", fmt.Errorf("finishing sign-in: %w", err)
	}

	if user.Email != email {
		c.recordFailure(token)
		c.logger.Warn("sign-in resolved to a different account than the flow email")
		return "", ErrNotAllowed
	}

	c.complete(token)
	return user.ID, nil
}

// passkeyStepEmail checks the flow is at the passkey step and not in
// cooldown, and returns its email.
func (c *Controller) passkeyStepEmail(token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[token]
	if !ok {
		return "", ErrFlowNotFound
	}
	if f.step != StepPasskey {
		return "", ErrWrongStep
	}
	if !f.lastFailed.IsZero() && c.now().Sub(f.lastFailed) < cooldown {
		return "", ErrCoolingDown
	}
	return f.email, nil
}

// signInStepEmail is passkeyStepEmail for the sign-in ceremony: a
// pending fallback from a failed registration waives the cooldown once
// and clears it, so the same attempt can continue into sign-in.
func (c *Controller) signInStepEmail(token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[token]
	if !ok {
		return "", ErrFlowNotFound
	}
	if f.step != StepPasskey {
		return "", ErrWrongStep
	}
	if f.fallbackPending {
		f.fallbackPending = false
		f.lastFailed = time.Time{}
		return f.email, nil
	}
	if !f.lastFailed.IsZero() && c.now().Sub(f.lastFailed) < cooldown {
		return "", ErrCoolingDown
	}
	return f.email, nil
}

func (c *Controller) recordFailure(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flows[token]; ok {
		f.lastFailed = c.now()
	}
}

// failRegistration records the failure but leaves the in-attempt
// sign-in fallback open.
func (c *Controller) failRegistration(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flows[token]; ok {
		f.lastFailed = c.now()
		f.fallbackPending = true
	}
}

// complete discards a finished flow.
func (c *Controller) complete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, token)
}

func (c *Controller) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cutoff := c.now().Add(-flowTTL)
			for k, v := range c.flows {
				if v.createdAt.Before(cutoff) {
					delete(c.flows, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
