package providers

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is an upstream identity provider.
type Provider interface {
	// Name returns the provider name (e.g., "google")
	Name() string

	// AuthorizationURL returns the URL the browser is sent to for login.
	// verifier is the PKCE code verifier; its S256 challenge is sent.
	AuthorizationURL(state, verifier string) string

	// ExchangeCode exchanges the callback code for provider tokens
	ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error)

	// UserInfo fetches the profile of the user that owns token
	UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

// UserInfo represents user information from a provider
type UserInfo struct {
	// ID is the unique user identifier from the provider
	ID string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's full name
	Name string

	// Picture is the URL of the user's profile picture
	Picture string
}
