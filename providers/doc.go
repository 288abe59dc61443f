// Package providers defines the upstream identity provider the gateway
// delegates user login to.
//
// Implementations are provided in subpackages:
//   - providers/google: Google OAuth 2.0 / OpenID Connect
//   - providers/mock: configurable provider for tests and local development
//
// The gateway always talks to the provider with PKCE (S256). The verifier is
// generated per login with oauth2.GenerateVerifier and kept in a sealed
// cookie until the callback.
//
// Example usage:
//
//	provider, err := google.NewProvider(&google.Config{
//	    ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
//	    ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
//	    RedirectURL:  "https://gateway.example.com/login/callback",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
package providers
