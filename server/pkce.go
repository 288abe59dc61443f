package server

import (
	"errors"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/security"
)

// PKCEMethodS256 is the only code_challenge_method accepted.
const PKCEMethodS256 = "S256"

var (
	errMissingVerifier   = errors.New("code_verifier is required")
	errUnsupportedMethod = errors.New("unsupported code_challenge_method")
	errVerifierMismatch  = errors.New("code_verifier does not match code_challenge")
)

// verifyPKCE recomputes base64url(SHA-256(verifier)) and compares it with the
// stored challenge in constant time (RFC 7636 Section 4.6).
func verifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return errMissingVerifier
	}
	if method != PKCEMethodS256 {
		return errUnsupportedMethod
	}
	if !security.ConstantTimeEquals(oauth2.S256ChallengeFromVerifier(verifier), challenge) {
		return errVerifierMismatch
	}
	return nil
}
