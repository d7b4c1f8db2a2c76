// ABOUTME: Tests for email normalization and validation
// ABOUTME: Covers type, trim/lowercase, length, format, and idempotence

package mailaddr

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize_TrimAndLowercase(t *testing.T) {
	got, err := Normalize("  Test@Example.COM  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "test@example.com" {
		t.Errorf("Normalize() = %q, want %q", got, "test@example.com")
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize("  User@Host.Org ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Normalize(first)
	if err != nil {
		t.Fatalf("unexpected error on second pass: %v", err)
	}
	if second != first {
		t.Errorf("second pass = %q, want unchanged %q", second, first)
	}
}

func TestNormalize_InvalidType(t *testing.T) {
	for _, v := range []any{123, 12.5, nil, true, []string{"a@b.c"}} {
		_, err := Normalize(v)
		if !errors.Is(err, ErrInvalidType) {
			t.Errorf("Normalize(%v) error = %v, want ErrInvalidType", v, err)
		}
	}
}

func TestNormalize_Required(t *testing.T) {
	for _, s := range []string{"", "   ", "\t\n"} {
		_, err := Normalize(s)
		if !errors.Is(err, ErrRequired) {
			t.Errorf("Normalize(%q) error = %v, want ErrRequired", s, err)
		}
	}
}

func TestNormalize_TooLong(t *testing.T) {
	long := strings.Repeat("a", 250) + "@test.com"
	_, err := Normalize(long)
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("error = %v, want ErrTooLong", err)
	}
}

func TestNormalize_MaxLengthBoundary(t *testing.T) {
	// local part sized so the whole address is exactly 254 chars
	local := strings.Repeat("a", MaxLength-len("@test.com"))
	if _, err := Normalize(local + "@test.com"); err != nil {
		t.Errorf("254-char email should validate, got %v", err)
	}
	if _, err := Normalize(local + "a@test.com"); !errors.Is(err, ErrTooLong) {
		t.Errorf("255-char email error = %v, want ErrTooLong", err)
	}
}

func TestNormalize_InvalidFormat(t *testing.T) {
	cases := []string{
		"plainaddress",
		"@missing-local.com",
		"missing-domain@",
		"no-tld@domain",
		"two@@signs.com",
		"embedded space@example.com",
		"trailing@example.com extra",
	}
	for _, s := range cases {
		_, err := Normalize(s)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidFormat", s, err)
		}
	}
}

func TestNormalize_ValidShapes(t *testing.T) {
	cases := []string{
		"a@b.co",
		"user.name+tag@sub.example.com",
		"UPPER@EXAMPLE.COM",
	}
	for _, s := range cases {
		if _, err := Normalize(s); err != nil {
			t.Errorf("Normalize(%q) unexpected error: %v", s, err)
		}
	}
}
