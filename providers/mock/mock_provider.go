// Package mock provides a configurable implementation of providers.Provider
// for tests and local development.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/providers"
)

// MockProvider is a mock implementation of the Provider interface
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state, verifier string) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code, verifier string) (*oauth2.Token, error)

	// UserInfoFunc is called when UserInfo() is invoked
	UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.RWMutex
}

var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider whose authorization URL points at
// callbackURL, so a browser (or test) lands directly on the callback with
// code "mock-code".
func NewMockProvider(callbackURL string) *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state, verifier string) string {
			q := url.Values{}
			q.Set("code", "mock-code")
			q.Set("state", state)
			return callbackURL + "?" + q.Encode()
		},
		ExchangeCodeFunc: func(_ context.Context, code, _ string) (*oauth2.Token, error) {
			if code != "mock-code" {
				return nil, fmt.Errorf("unknown code")
			}
			return &oauth2.Token{
				AccessToken: "mock-access-token",
				TokenType:   "Bearer",
			}, nil
		},
		UserInfoFunc: func(_ context.Context, _ *oauth2.Token) (*providers.UserInfo, error) {
			return &providers.UserInfo{
				ID:            "mock-user-123",
				Email:         "mock@example.com",
				EmailVerified: true,
				Name:          "Mock User",
			}, nil
		},
	}
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	// Release the lock before calling the user function; it may call other
	// mock methods.
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	if fn == nil {
		return "mock"
	}
	return fn()
}

// AuthorizationURL returns the login URL
func (m *MockProvider) AuthorizationURL(state, verifier string) string {
	m.mu.Lock()
	m.CallCounts["AuthorizationURL"]++
	fn := m.AuthorizationURLFunc
	m.mu.Unlock()

	if fn == nil {
		return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
	}
	return fn(state, verifier)
}

// ExchangeCode exchanges a callback code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.CallCounts["ExchangeCode"]++
	fn := m.ExchangeCodeFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, code, verifier)
}

// UserInfo returns the user behind token
func (m *MockProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	m.mu.Lock()
	m.CallCounts["UserInfo"]++
	fn := m.UserInfoFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("UserInfoFunc not configured")
	}
	return fn(ctx, token)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
