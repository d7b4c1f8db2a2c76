// ABOUTME: Package gate classifies routes and redirects unauthenticated requests
// ABOUTME: Performs only a session-token shape check, never a database lookup

// Package gate is the access middleware in front of the application.
//
// It sorts incoming paths into public and protected, and sends
// requests without a plausibly-shaped session cookie to the login
// page. Actual token verification happens later, in the handlers that
// need the authenticated user.
package gate
