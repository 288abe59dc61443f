package server

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/mcp-gateway/internal/testutil"
	"github.com/giantswarm/mcp-gateway/storage/memory"
)

const testRedirectURI = "https://app.example.com/callback"

func newTestServer(t *testing.T, config *Config) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = "https://gateway.example.com"
	}

	srv, err := New(store, store, store, config, testutil.QuietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

// registerTestClient registers a client for testRedirectURI and returns its
// id and plaintext secret.
func registerTestClient(t *testing.T, srv *Server) (string, string) {
	t.Helper()

	client, secret, err := srv.RegisterClient(context.Background(), &ClientRegistration{
		ClientName:   "Test Client",
		RedirectURIs: []string{testRedirectURI},
	}, "192.0.2.1")
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return client.ClientID, secret
}

type issuedCode struct {
	clientID     string
	clientSecret string
	code         string
	verifier     string
}

// issueTestCode registers a client and approves an authorization for user-1.
func issueTestCode(t *testing.T, srv *Server) issuedCode {
	t.Helper()

	clientID, secret := registerTestClient(t, srv)
	challenge, verifier := testutil.GeneratePKCEPair()

	redirect, err := srv.ApproveAuthorization(context.Background(), "user-1", &AuthorizationRequest{
		ClientID:      clientID,
		RedirectURI:   testRedirectURI,
		ResponseType:  "code",
		CodeChallenge: challenge,
		Scope:         "mcp",
		State:         "xyz",
	})
	if err != nil {
		t.Fatalf("ApproveAuthorization() error = %v", err)
	}

	return issuedCode{
		clientID:     clientID,
		clientSecret: secret,
		code:         queryParam(t, redirect, "code"),
		verifier:     verifier,
	}
}

func (c issuedCode) tokenRequest() *TokenRequest {
	return &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         c.code,
		RedirectURI:  testRedirectURI,
		ClientID:     c.clientID,
		CodeVerifier: c.verifier,
	}
}

func queryParam(t *testing.T, rawURL, key string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", rawURL, err)
	}
	return u.Query().Get(key)
}

func assertOAuthError(t *testing.T, err error, wantCode string) *OAuthError {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", wantCode)
	}
	oauthErr, ok := err.(*OAuthError)
	if !ok {
		t.Fatalf("error type = %T (%v), want *OAuthError", err, err)
	}
	if oauthErr.Code != wantCode {
		t.Fatalf("error code = %q (%s), want %q", oauthErr.Code, oauthErr.Description, wantCode)
	}
	return oauthErr
}

func useClock(srv *Server, start time.Time) *testutil.MockTime {
	clock := testutil.NewMockTime(start)
	srv.now = clock.Now
	return clock
}
