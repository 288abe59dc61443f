// Package server implements the OAuth 2.0 authorization-code grant with
// mandatory PKCE (S256) for the MCP gateway.
//
// The Server type owns the grant state machine:
//   - Dynamic client registration (RFC 7591) with a strict redirect URI policy
//   - Authorization request validation, approval and denial
//   - The three-phase code exchange: lookup, side-effect-free validation, and
//     a single conditional consume before any token is minted
//   - Opaque bearer token validation and revocation
//
// Client secrets, authorization codes and access tokens are hashed with
// security.HashCredential before they reach a storage backend. Every
// comparison against a presented value goes through security.ConstantTimeEquals.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, &server.Config{
//	    Issuer: "https://gateway.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
