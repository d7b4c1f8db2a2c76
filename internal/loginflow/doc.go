// ABOUTME: Package loginflow drives the two-step login sequence server-side
// ABOUTME: Email entry first, then a passkey ceremony with sign-in fallback

// Package loginflow holds the state machine behind the login page.
//
// A flow starts at the email step, advances to the passkey step once
// an address is submitted, and can fall back from registration to
// plain sign-in when the authenticator already knows the account.
// Failed attempts impose a short cooldown before the next try.
package loginflow
