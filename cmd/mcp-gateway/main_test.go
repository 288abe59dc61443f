package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/session"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    slog.Level
		wantErr bool
	}{
		{raw: "", want: slog.LevelInfo},
		{raw: "debug", want: slog.LevelDebug},
		{raw: "INFO", want: slog.LevelInfo},
		{raw: "warn", want: slog.LevelWarn},
		{raw: " error ", want: slog.LevelError},
		{raw: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	v := viper.New()
	v.Set(keyLogLevel, "warn")
	v.Set(keyLogFormat, "json")

	var buf bytes.Buffer
	logger, err := newLogger(v, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	v.Set(keyLogFormat, "xml")
	_, err = newLogger(v, &buf)
	assert.Error(t, err)
}

// serveViper returns the viper instance of a root command after parsing
// args, so flag defaults and bindings are exercised as in production.
func serveViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	cmd := newServeCommand(v)
	cmd.Flags().String(keyDatabaseURL, "", "")
	mustBindFlag(v, keyDatabaseURL, "DATABASE_URL", cmd.Flags().Lookup(keyDatabaseURL))
	require.NoError(t, cmd.ParseFlags(args))
	return v
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg, err := loadServeConfig(serveViper(t))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.PublicURL)
	assert.EqualValues(t, 3600, cfg.TokenTTLSeconds)
	assert.Equal(t, session.DefaultMaxSessions, cfg.Sessions.MaxSessions)
	assert.Equal(t, session.DefaultIdleTimeout, cfg.Sessions.IdleTimeout)
	assert.Equal(t, session.DefaultSweepInterval, cfg.Sessions.SweepInterval)
	assert.Equal(t, "memory", storageBackend(cfg))
	assert.False(t, cfg.googleConfigured())
}

func TestLoadServeConfig_Environment(t *testing.T) {
	t.Setenv("PUBLIC_APP_URL", "https://gateway.example.com/")
	t.Setenv("MCP_TOKEN_TTL_SECONDS", "120")
	t.Setenv("MCP_MAX_SESSIONS", "5")
	t.Setenv("MCP_SESSION_IDLE_TIMEOUT", "2m")
	t.Setenv("DATABASE_URL", "postgres://localhost/gateway")

	cfg, err := loadServeConfig(serveViper(t))
	require.NoError(t, err)

	assert.Equal(t, "https://gateway.example.com", cfg.PublicURL)
	assert.EqualValues(t, 120, cfg.TokenTTLSeconds)
	assert.Equal(t, 5, cfg.Sessions.MaxSessions)
	assert.Equal(t, 2*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, "postgres", storageBackend(cfg))
}

func TestLoadServeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "non-positive token ttl",
			args:    []string{"--" + keyTokenTTL + "=0"},
			wantErr: "must be positive",
		},
		{
			name:    "google without session secret",
			args:    []string{"--" + keyGoogleClientID + "=id", "--" + keyGoogleClientSecret + "=secret"},
			wantErr: "SESSION_SECRET",
		},
		{
			name:    "google half configured",
			args:    []string{"--" + keyGoogleClientID + "=id", "--" + keySessionSecret + "=" + strings.Repeat("s", 32)},
			wantErr: "must be set together",
		},
		{
			name:    "auto migrate without database",
			args:    []string{"--" + keyAutoMigrate},
			wantErr: "DATABASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadServeConfig(serveViper(t, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewProvider(t *testing.T) {
	provider, err := newProvider(serveConfig{})
	require.NoError(t, err)
	assert.Nil(t, provider)

	provider, err = newProvider(serveConfig{
		PublicURL:          "https://gateway.example.com",
		GoogleClientID:     "id",
		GoogleClientSecret: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, "google", provider.Name())
	assert.Contains(t, provider.AuthorizationURL("state", "verifier"),
		"redirect_uri=https%3A%2F%2Fgateway.example.com%2Flogin%2Fcallback")
}

type fakeExpirer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExpirer) DeleteExpired(context.Context, time.Time) (int64, int64, error) {
	f.calls.Add(1)
	return 1, 2, f.err
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runJanitor(ctx, &fakeExpirer{err: errors.New("db down")}, slog.New(slog.DiscardHandler))
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runJanitor did not return after cancel")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "mcp-gateway "+version+"\n", out.String())
}
