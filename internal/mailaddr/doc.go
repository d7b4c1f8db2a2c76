// ABOUTME: Package mailaddr normalizes and validates candidate email addresses
// ABOUTME: Pure string validation, no I/O, safe to call unbounded times
//
// Package mailaddr implements the email validation step of the login
// pipeline. Validation is deliberately permissive: the format check only
// requires a local@domain.tld shape with no embedded whitespace, not full
// RFC 5322 conformance. Normalization (trim, lowercase) happens before
// validation, so all downstream comparisons are case- and
// whitespace-insensitive.
package mailaddr
