package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

const (
	testTokenEndpoint    = "/token"
	testUserInfoEndpoint = "/userinfo"
)

func newTestProvider(t *testing.T, serverURL string) *Provider {
	t.Helper()
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://gateway.example.com/login/callback",
		UserInfoURL:  serverURL + testUserInfoEndpoint,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	provider.Endpoint.TokenURL = serverURL + testTokenEndpoint
	return provider
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
				RedirectURL:  "https://example.com/callback",
				Scopes:       []string{"openid", "email"},
			},
		},
		{
			name: "missing client ID",
			config: &Config{
				ClientSecret: "test-client-secret",
				RedirectURL:  "https://example.com/callback",
			},
			wantErr: true,
		},
		{
			name: "missing client secret",
			config: &Config{
				ClientID:    "test-client-id",
				RedirectURL: "https://example.com/callback",
			},
			wantErr: true,
		},
		{
			name: "missing redirect URL",
			config: &Config{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && provider.httpClient == nil {
				t.Error("NewProvider() httpClient is nil")
			}
		})
	}
}

func TestNewProvider_Defaults(t *testing.T) {
	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	if len(provider.Scopes) != 3 {
		t.Errorf("Scopes = %v, want openid email profile", provider.Scopes)
	}
	if provider.userInfoURL != DefaultUserInfoURL {
		t.Errorf("userInfoURL = %q, want %q", provider.userInfoURL, DefaultUserInfoURL)
	}
	if got := provider.Name(); got != "google" {
		t.Errorf("Name() = %q, want %q", got, "google")
	}
}

func TestNewProvider_WithCustomHTTPClient(t *testing.T) {
	customClient := &http.Client{Timeout: 10 * time.Second}

	provider, err := NewProvider(&Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "https://example.com/callback",
		HTTPClient:   customClient,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if provider.httpClient != customClient {
		t.Error("NewProvider() did not use custom HTTP client")
	}
}

func TestProvider_AuthorizationURL(t *testing.T) {
	provider := newTestProvider(t, "https://unused.example.com")
	verifier := oauth2.GenerateVerifier()

	authURL, err := url.Parse(provider.AuthorizationURL("test-state", verifier))
	if err != nil {
		t.Fatalf("AuthorizationURL() returned invalid URL: %v", err)
	}
	q := authURL.Query()

	checks := map[string]string{
		"state":                 "test-state",
		"client_id":             "test-client-id",
		"redirect_uri":          "https://gateway.example.com/login/callback",
		"response_type":         "code",
		"code_challenge":        oauth2.S256ChallengeFromVerifier(verifier),
		"code_challenge_method": "S256",
		"access_type":           "online",
	}
	for param, want := range checks {
		if got := q.Get(param); got != want {
			t.Errorf("%s = %q, want %q", param, got, want)
		}
	}
}

func TestProvider_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != testTokenEndpoint {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		if r.FormValue("code") != "test-code" {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}
		if r.FormValue("code_verifier") != "test-verifier" {
			http.Error(w, "invalid code_verifier", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	token, err := provider.ExchangeCode(context.Background(), "test-code", "test-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token.AccessToken != "test-access-token" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "test-access-token")
	}

	if _, err := provider.ExchangeCode(context.Background(), "wrong-code", "test-verifier"); err == nil {
		t.Error("ExchangeCode() with rejected code should return error")
	}
}

func TestProvider_UserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != testUserInfoEndpoint {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":            "123456789",
			"email":          "test@example.com",
			"email_verified": true,
			"name":           "Test User",
			"picture":        "https://example.com/photo.jpg",
		})
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	info, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-access-token", TokenType: "Bearer"})
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if info.ID != "123456789" {
		t.Errorf("ID = %q, want %q", info.ID, "123456789")
	}
	if info.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", info.Email, "test@example.com")
	}
	if !info.EmailVerified {
		t.Error("EmailVerified should be true")
	}
	if info.Picture != "https://example.com/photo.jpg" {
		t.Errorf("Picture = %q", info.Picture)
	}

	if _, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "invalid"}); err == nil {
		t.Error("UserInfo() should return error for invalid token")
	}
}

func TestProvider_UserInfo_MissingSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"test@example.com"}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, server.URL)

	if _, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "t"}); err == nil {
		t.Error("UserInfo() without subject should return error")
	}
}
