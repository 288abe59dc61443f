package mock

import (
	"context"
	"net/url"
	"testing"
)

func TestMockProvider_LoginRoundTrip(t *testing.T) {
	m := NewMockProvider("https://gateway.example.com/login/callback")

	u, err := url.Parse(m.AuthorizationURL("state-1", "verifier"))
	if err != nil {
		t.Fatalf("AuthorizationURL() returned invalid URL: %v", err)
	}
	if got := u.Query().Get("state"); got != "state-1" {
		t.Errorf("state = %q, want %q", got, "state-1")
	}

	token, err := m.ExchangeCode(context.Background(), u.Query().Get("code"), "verifier")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	info, err := m.UserInfo(context.Background(), token)
	if err != nil {
		t.Fatalf("UserInfo() error = %v", err)
	}
	if info.ID != "mock-user-123" {
		t.Errorf("ID = %q, want %q", info.ID, "mock-user-123")
	}

	if _, err := m.ExchangeCode(context.Background(), "other", "verifier"); err == nil {
		t.Error("ExchangeCode() with unknown code should fail")
	}

	for method, want := range map[string]int{"AuthorizationURL": 1, "ExchangeCode": 2, "UserInfo": 1} {
		if got := m.GetCallCount(method); got != want {
			t.Errorf("GetCallCount(%q) = %d, want %d", method, got, want)
		}
	}

	m.ResetCallCounts()
	if got := m.GetCallCount("ExchangeCode"); got != 0 {
		t.Errorf("GetCallCount() after reset = %d, want 0", got)
	}
}

func TestMockProvider_Unconfigured(t *testing.T) {
	m := &MockProvider{CallCounts: make(map[string]int)}

	if got := m.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}
	if _, err := m.ExchangeCode(context.Background(), "c", "v"); err == nil {
		t.Error("ExchangeCode() without func should fail")
	}
	if _, err := m.UserInfo(context.Background(), nil); err == nil {
		t.Error("UserInfo() without func should fail")
	}
}
