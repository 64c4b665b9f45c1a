package util

import (
	"net/mail"
	"strings"
)

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Lookups and the storage uniqueness constraint both operate on the
// normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the address parses as a bare RFC 5322 address.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// Reject display-name forms like "Ann <ann@x.com>"
	return addr.Address == email
}

// TrimInput collapses surrounding whitespace on free-form fields
func TrimInput(s string) string {
	return strings.TrimSpace(s)
}
