// ABOUTME: Package ratelimit provides a Redis-backed sliding-window rate limiter
// ABOUTME: A nil limiter disables limiting entirely (fail open)

// Package ratelimit throttles abusive clients using a sliding window
// over a Redis sorted set.
//
// Buckets namespace keys so different endpoints get independent
// budgets. When the counter backend is unreachable the limiter fails
// open outside production and closed in production.
package ratelimit
