// ABOUTME: Allowlist resolver with env-list fast path and strict database lookup
// ABOUTME: Falls back to the configured list when the allowlist table does not exist

package allowlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// queryTimeout bounds the database lookup so a wedged database cannot
// stall a login attempt indefinitely.
const queryTimeout = 3 * time.Second

// ErrStoreUnavailable indicates the allowlist could not be consulted.
// Callers must treat this as a denial, never as an approval.
var ErrStoreUnavailable = errors.New("allowlist store unavailable")

// Store is the subset of the database the resolver needs.
type Store interface {
	EmailAllowed(ctx context.Context, email string) (bool, error)
}

// Resolver answers authorization queries for normalized email addresses.
type Resolver struct {
	store      Store
	production bool
	envList    map[string]struct{}
	logger     *slog.Logger
}

// New creates a resolver. envEmails is the configured fallback list;
// entries are normalized on the way in.
func New(store Store, envEmails []string, production bool, logger *slog.Logger) *Resolver {
	list := make(map[string]struct{}, len(envEmails))
	for _, e := range envEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			list[e] = struct{}{}
		}
	}
	return &Resolver{
		store:      store,
		production: production,
		envList:    list,
		logger:     logger.With("component", "allowlist"),
	}
}

// Authorized reports whether email may sign in. The input must already
// be normalized (lowercased, trimmed).
//
// Outside production a non-empty configured list is the whole answer:
// the decision is made in memory, allow or deny, and the database is
// never touched. In production the database is authoritative; the
// configured list is consulted only when the allowlist table has never
// been created.
func (r *Resolver) Authorized(ctx context.Context, email string) (bool, error) {
	if !r.production && len(r.envList) > 0 {
		_, ok := r.envList[email]
		return ok, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	allowed, err := r.store.EmailAllowed(ctx, email)
	if err != nil {
		if isMissingTableError(err) {
			// The database has never been seeded. Fall back to the
			// configured list so a fresh deployment is not locked out.
			r.logger.Warn("allowlist table missing, using configured list")
			_, ok := r.envList[email]
			return ok, nil
		}
		if r.production {
			r.logger.Error("allowlist lookup failed", "error", err)
			return false, fmt.Errorf("checking allowlist: %w", ErrStoreUnavailable)
		}
		r.logger.Warn("allowlist lookup failed, using configured list", "error", err)
		_, ok := r.envList[email]
		return ok, nil
	}

	return allowed, nil
}

func isMissingTableError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
