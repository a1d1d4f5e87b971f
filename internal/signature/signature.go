// Package signature signs and verifies device payloads with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sign returns the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a caller supplied signature header against the raw body.
// The header is trimmed and lowercased before comparison.
func Verify(secret, body []byte, header string) bool {
	expected := Sign(secret, body)
	return Equal(expected, strings.ToLower(strings.TrimSpace(header)))
}

// Equal compares two signatures in constant time. Length mismatch short-circuits
// to false since ConstantTimeCompare only guarantees timing for equal lengths.
func Equal(expected, provided string) bool {
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
