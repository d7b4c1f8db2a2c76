// ABOUTME: Package store provides SQLite persistence for notegate
// ABOUTME: Users, sessions, passkey credentials, allowed emails, and notes
//
// Package store implements persistence using modernc.org/sqlite. The
// schema is created automatically on open. The allowed_emails table is
// insert-only (idempotent seeding); a database-level trigger installed by
// the seeding operation re-validates any email written to the users table
// against the allowlist as a defense-in-depth layer independent of the
// request-time resolver.
package store
