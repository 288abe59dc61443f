package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogEvent(Event{
				Type:      EventAuthFailure,
				UserID:    "user-123",
				ClientID:  "client-456",
				IPAddress: "192.168.1.1",
				Details:   map[string]any{"reason": "test"},
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Fatalf("logged = %v, want %v", got, tt.wantLog)
			}
			if !tt.wantLog {
				return
			}

			out := buf.String()
			if !strings.Contains(out, "security_audit") {
				t.Errorf("log output missing message: %s", out)
			}
			if strings.Contains(out, "user-123") {
				t.Errorf("log output contains the raw user id: %s", out)
			}
			if !strings.Contains(out, hashForLogging("user-123")) {
				t.Errorf("log output missing hashed user id: %s", out)
			}
		})
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var auditor *Auditor
	auditor.LogTokenIssued("user", "client", "127.0.0.1", "")
}

func TestAuditor_LogSessionEvent(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	auditor.LogSessionEvent(EventSessionEvicted, "session-1", "user-1")

	out := buf.String()
	if !strings.Contains(out, EventSessionEvicted) {
		t.Errorf("log output missing event type: %s", out)
	}
	if !strings.Contains(out, "session_id=session-1") {
		t.Errorf("log output missing session id: %s", out)
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want %q", got, "<empty>")
	}
	if got := hashForLogging("user"); len(got) != 16 {
		t.Errorf("len(hashForLogging(\"user\")) = %d, want 16", len(got))
	}
}
