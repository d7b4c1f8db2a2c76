// ABOUTME: Package web assembles the HTTP surface: routes, handlers, server lifecycle
// ABOUTME: Supports plain TCP and tsnet listeners

// Package web serves the application: the login and unauthorized
// pages, the email validation endpoint, the passkey ceremony API, and
// the notes app behind the access gate.
package web
