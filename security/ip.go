package security

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver extracts the caller's IP address for rate limiting and audit
// records. Forwarding headers are only honoured when TrustProxy is set.
type IPResolver struct {
	TrustProxy bool

	// TrustedProxyCount is the number of proxies appending to
	// X-Forwarded-For in front of the gateway. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the best-effort client address for r.
func (res IPResolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), res.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipFromForwardedFor picks the entry added by the outermost trusted proxy.
// Entries left of it are client controlled and ignored.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
