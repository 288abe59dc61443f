package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/session"
)

const (
	corsAllowMethods    = "GET, POST, OPTIONS"
	corsAllowMethodsMCP = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders    = "Content-Type, Authorization"
)

// corsMiddleware allows any origin. Preflight requests are answered here
// with 204 and never reach a route.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Max-Age", strconv.Itoa(defaultCORSMaxAge))

		if r.URL.Path == PathMCP {
			hdr.Set("Access-Control-Allow-Methods", corsAllowMethodsMCP)
			hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders+", "+session.HeaderSessionID)
			hdr.Set("Access-Control-Expose-Headers", session.HeaderSessionID)
		} else {
			hdr.Set("Access-Control-Allow-Methods", corsAllowMethods)
			hdr.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a per-IP limit. A nil limiter disables it.
func (h *Handler) rateLimitMiddleware(limiter *security.RateLimiter, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := h.ipResolver.ClientIP(r)
			if limiter.Allow(clientIP) {
				next.ServeHTTP(w, r)
				return
			}

			h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
			h.auditor.LogRateLimitExceeded(clientIP, endpoint)
			h.inst.Metrics().RecordRateLimitExceeded(r.Context(), endpoint)

			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": ErrorCodeRateLimitExceeded})
		})
	}
}

// metricsMiddleware records request count and duration by route pattern.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	if h.inst == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
			float64(time.Since(start).Microseconds())/1000)
	})
}
