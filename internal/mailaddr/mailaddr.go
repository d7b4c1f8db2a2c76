// ABOUTME: Email normalization and format/length validation
// ABOUTME: Sentinel errors distinguish type, empty, length, and format failures

package mailaddr

import (
	"errors"
	"regexp"
	"strings"
)

// MaxLength is the practical upper bound for an email address (RFC 5321).
const MaxLength = 254

// ErrInvalidType is returned when the input is not a string.
var ErrInvalidType = errors.New("email must be a string")

// ErrRequired is returned when the input is empty after trimming.
var ErrRequired = errors.New("email is required")

// ErrTooLong is returned when the normalized email exceeds MaxLength.
var ErrTooLong = errors.New("email too long")

// ErrInvalidFormat is returned when the email doesn't match local@domain.tld.
var ErrInvalidFormat = errors.New("invalid email format")

// Intentionally simpler than RFC 5322: non-whitespace non-@ local part,
// @, domain, dot, tld. Embedded whitespace never passes because \S
// excludes it.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Normalize validates an arbitrary input value and returns the normalized
// (trimmed, lowercased) email address. Normalization is applied before
// format validation, so "  Test@Example.COM  " normalizes cleanly.
// Idempotent: feeding a returned value back in yields it unchanged.
func Normalize(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", ErrInvalidType
	}

	email := strings.ToLower(strings.TrimSpace(s))
	if email == "" {
		return "", ErrRequired
	}
	if len(email) > MaxLength {
		return "", ErrTooLong
	}
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidFormat
	}
	return email, nil
}
