package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short, stable, non-reversible identifier for a secret value.
// Logs carry the fingerprint so two refreshes can be told apart without exposing the token.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// MaskToken keeps a short prefix of a token for audit payloads.
func MaskToken(token string) string {
	const keep = 8
	if len(token) <= keep {
		return "***"
	}
	return token[:keep] + "***"
}
