// ABOUTME: Package session owns passkey ceremonies and opaque session tokens
// ABOUTME: Wraps go-webauthn registration and discoverable login

// Package session is the authentication authority: it runs WebAuthn
// registration and login ceremonies, creates accounts for allowlisted
// emails, and issues the opaque session tokens the rest of the app
// trusts.
package session
