package server

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"golang.org/x/oauth2"
)

func TestVerifyPKCE(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		wantErr   error
	}{
		{
			name:      "matching verifier",
			challenge: challenge,
			method:    PKCEMethodS256,
			verifier:  verifier,
		},
		{
			name:      "missing verifier",
			challenge: challenge,
			method:    PKCEMethodS256,
			verifier:  "",
			wantErr:   errMissingVerifier,
		},
		{
			name:      "plain method",
			challenge: verifier,
			method:    "plain",
			verifier:  verifier,
			wantErr:   errUnsupportedMethod,
		},
		{
			name:      "verifier sent as challenge",
			challenge: challenge,
			method:    PKCEMethodS256,
			verifier:  challenge,
			wantErr:   errVerifierMismatch,
		},
		{
			name:      "truncated verifier",
			challenge: challenge,
			method:    PKCEMethodS256,
			verifier:  verifier[:len(verifier)-1],
			wantErr:   errVerifierMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyPKCE(tt.challenge, tt.method, tt.verifier)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("verifyPKCE() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyPKCE_SingleBitMutation(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	if err := verifyPKCE(challenge, PKCEMethodS256, verifier); err != nil {
		t.Fatalf("verifyPKCE() with the original verifier error = %v", err)
	}

	for i := 0; i < len(verifier); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(verifier)
			mutated[i] ^= 1 << bit
			if err := verifyPKCE(challenge, PKCEMethodS256, string(mutated)); err == nil {
				t.Fatalf("verifyPKCE() accepted verifier with byte %d bit %d flipped", i, bit)
			}
		}
	}
}
