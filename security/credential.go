package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Credential sizes in random bytes.
const (
	ClientSecretBytes      = 32
	AuthorizationCodeBytes = 32
	AccessTokenBytes       = 48
)

// HashCredential returns the hex-encoded SHA-256 digest of value. It is the
// only form in which secrets, codes and tokens are persisted.
func HashCredential(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals reports whether a and b are equal. A length mismatch is
// rejected up front; equal-length inputs are compared without short-circuiting.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateSecret returns nBytes of crypto/rand output, hex encoded.
func GenerateSecret(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("secret size must be positive, got %d", nBytes)
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
