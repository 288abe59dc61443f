package gateway

import (
	"log/slog"
	"time"
)

// Defaults for Config fields left zero.
const (
	DefaultSessionCookieName = "mcp_gateway_session"
	DefaultSessionCookieTTL  = 24 * time.Hour
	DefaultMaxBodyBytes      = 1 << 20
	defaultCORSMaxAge        = 3600
)

// Config holds the HTTP handler configuration
type Config struct {
	// SessionCookie configures the browser login session
	SessionCookie SessionCookieConfig

	// RateLimit configures per-IP limits on /register and /token
	RateLimit RateLimitConfig

	// MaxBodyBytes bounds request bodies on the OAuth endpoints.
	// Default: 1 MiB
	MaxBodyBytes int64
}

// SessionCookieConfig configures the sealed cookie that carries the
// logged-in user between /login/callback and /authorize.
type SessionCookieConfig struct {
	// Name of the cookie. Default: mcp_gateway_session
	Name string

	// Secret is the key material for sealing cookies (SESSION_SECRET).
	// At least 32 characters. When empty a random key is generated and
	// sessions do not survive a restart.
	Secret string

	// TTL is the lifetime of a login session. Default: 24h
	TTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP. Default: 2x Rate
	Burst int
}

// applyDefaults fills zero values and reports insecure settings.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.SessionCookie.Name == "" {
		config.SessionCookie.Name = DefaultSessionCookieName
	}
	if config.SessionCookie.TTL <= 0 {
		config.SessionCookie.TTL = DefaultSessionCookieTTL
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.RateLimit.Rate > 0 && config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = config.RateLimit.Rate * 2
	}

	if config.SessionCookie.Secret == "" {
		logger.Warn("⚠️  SECURITY WARNING: No session secret configured",
			"risk", "Login sessions are lost on restart and differ between replicas",
			"recommendation", "Set SESSION_SECRET to at least 32 random characters")
	}
	if config.RateLimit.Rate <= 0 {
		logger.Warn("⚠️  SECURITY WARNING: Rate limiting is DISABLED",
			"risk", "Registration and token endpoints can be flooded",
			"recommendation", "Set a per-IP rate limit in production")
	}

	return config
}
