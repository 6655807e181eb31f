// Package token generates credentials in the shape the API under test
// accepts, plus the malformed variants used by negative scenarios.
package token

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	// Length is the exact length of a valid token.
	Length = 32

	// ShortLength is the length of the truncated invalid variant.
	ShortLength = 10

	alphabet = "0123456789ABCDEF"
)

var validPattern = regexp.MustCompile(`^[0-9A-F]{32}$`)

// Valid returns a fresh token uniformly sampled over [0-9A-F]{32}.
// Uniqueness is statistical, not a security property.
func Valid() string {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// InvalidShort returns the first ShortLength characters of a valid token.
func InvalidShort() string {
	return Valid()[:ShortLength]
}

// InvalidLowercase returns a valid token with every character lower-cased.
// The result always contains at least one letter.
func InvalidLowercase() string {
	for {
		t := strings.ToLower(Valid())
		if strings.ContainsAny(t, "abcdef") {
			return t
		}
	}
}

// IsValid reports whether t has the accepted token shape.
func IsValid(t string) bool {
	return validPattern.MatchString(t)
}

// Mask shortens a token for logs and attachments: first 4 + "..." + last 4.
// Tokens of 8 characters or fewer are returned unchanged.
func Mask(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:4] + "..." + t[len(t)-4:]
}
