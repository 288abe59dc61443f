package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestApplySecureDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	config := applySecureDefaults(&Config{}, logger)

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", config.TrustedProxyCount)
	}
	if config.AllowUnboundRedirectURIs {
		t.Error("AllowUnboundRedirectURIs should default to false")
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected warnings for default config: %s", buf.String())
	}
}

func TestApplySecureDefaults_KeepsExplicitValues(t *testing.T) {
	config := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 60,
		AccessTokenTTL:       120,
		TrustedProxyCount:    2,
	}, slog.Default())

	if config.AuthorizationCodeTTL != 60 {
		t.Errorf("AuthorizationCodeTTL = %d, want 60", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 120 {
		t.Errorf("AccessTokenTTL = %d, want 120", config.AccessTokenTTL)
	}
	if config.TrustedProxyCount != 2 {
		t.Errorf("TrustedProxyCount = %d, want 2", config.TrustedProxyCount)
	}
}

func TestLogSecurityWarnings(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "unbound redirect URIs",
			config: Config{AllowUnboundRedirectURIs: true},
			want:   "Unbound redirect URIs are ALLOWED",
		},
		{
			name:   "trust proxy",
			config: Config{TrustProxy: true},
			want:   "Trusting proxy headers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			logSecurityWarnings(&tt.config, logger)

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}
