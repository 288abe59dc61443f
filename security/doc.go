// Package security holds the security primitives shared by the gateway:
// credential hashing and constant-time comparison, per-IP rate limiting,
// sealed cookies, security headers, client IP resolution, request IDs, and
// the security audit log.
//
// # Credentials
//
// Client secrets, authorization codes and access tokens are never stored or
// compared in clear. Callers hash the presented value with HashCredential and
// compare digests with ConstantTimeEquals:
//
//	if !security.ConstantTimeEquals(client.ClientSecretHash, security.HashCredential(secret)) {
//	    return ErrInvalidClient("Client authentication failed")
//	}
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (usually the client IP)
// and evicts the least recently used buckets once MaxEntries is reached:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    return http.StatusTooManyRequests
//	}
//
// # Audit Logging
//
// Auditor writes "security_audit" records. User identifiers are hashed before
// they reach the log.
package security
