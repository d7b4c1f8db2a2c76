// ABOUTME: Package allowlist decides whether an email address may sign in
// ABOUTME: Backed by the database allowlist, with an env-list fast path outside production

// Package allowlist resolves whether an email address is permitted to
// create an account or sign in.
//
// In production the resolver always consults the allowed_emails table.
// Outside production, a configured in-memory list short-circuits the
// database query so development setups work without seeding.
package allowlist
