package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex returns the hex-encoded SHA-256 of input.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// EmailFingerprint hashes a normalized email address so it can appear in keys and
// logs without exposing the address itself.
func EmailFingerprint(email string) string {
	return Sha256Hex(strings.ToLower(strings.TrimSpace(email)))
}
