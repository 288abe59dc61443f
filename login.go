package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/internal/util"
	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

const (
	// loginCookieName holds the state of a login in progress
	loginCookieName = "mcp_gateway_login"

	// loginTTL bounds the time between /login and /login/callback
	loginTTL = 10 * time.Minute

	// stateBytes is the entropy of the login state parameter
	stateBytes = 32

	// cookieKeyInfo is the HKDF info for the cookie sealing key
	cookieKeyInfo = "mcp-gateway cookie v1"
)

// pendingLogin is sealed into the login cookie.
type pendingLogin struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	ReturnTo  string    `json:"return_to"`
	ExpiresAt time.Time `json:"exp"`
}

// userSession is sealed into the session cookie.
type userSession struct {
	UserID    string    `json:"uid"`
	ExpiresAt time.Time `json:"exp"`
}

// sealCookie encrypts v bound to the cookie name and sets it.
func (h *Handler) sealCookie(w http.ResponseWriter, name, path string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sealed, err := h.cookies.Seal(data, []byte(name))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// openCookie decrypts the named cookie into v.
func (h *Handler) openCookie(r *http.Request, name string, v any) error {
	c, err := r.Cookie(name)
	if err != nil {
		return err
	}
	data, err := h.cookies.Open(c.Value, []byte(name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (h *Handler) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// CurrentUser returns the id of the logged-in browser user, if any.
func (h *Handler) CurrentUser(r *http.Request) (string, bool) {
	var sess userSession
	if err := h.openCookie(r, h.config.SessionCookie.Name, &sess); err != nil {
		return "", false
	}
	if sess.UserID == "" || !h.now().Before(sess.ExpiresAt) {
		return "", false
	}
	return sess.UserID, true
}

// safeReturnTo keeps only local absolute paths so that /login can never be
// used as an open redirect.
func safeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") ||
		strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}

// loginURL is where GET /authorize sends a browser without a session.
func loginURL(returnTo string) string {
	return "/login?" + url.Values{"return_to": {returnTo}}.Encode()
}

// ServeLogin starts a login at the identity provider
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		h.writeError(w, ErrorCodeServerError, "Identity provider not configured", http.StatusServiceUnavailable)
		return
	}

	state, err := security.GenerateSecret(stateBytes)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	pending := pendingLogin{
		State:     state,
		Verifier:  oauth2.GenerateVerifier(),
		ReturnTo:  safeReturnTo(r.URL.Query().Get("return_to")),
		ExpiresAt: h.now().Add(loginTTL),
	}
	if err := h.sealCookie(w, loginCookieName, "/login", pending, loginTTL); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.logger.Debug("Login started",
		"provider", h.provider.Name(),
		"state_prefix", util.SafeTruncate(state, 8))

	http.Redirect(w, r, h.provider.AuthorizationURL(pending.State, pending.Verifier), http.StatusFound)
}

// ServeLoginCallback completes a login: it checks the state, exchanges the
// code, stores the profile and starts the browser session.
func (h *Handler) ServeLoginCallback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		h.writeError(w, ErrorCodeServerError, "Identity provider not configured", http.StatusServiceUnavailable)
		return
	}

	var pending pendingLogin
	err := h.openCookie(r, loginCookieName, &pending)
	h.clearCookie(w, loginCookieName, "/login")
	if err != nil || !h.now().Before(pending.ExpiresAt) {
		h.writeError(w, ErrorCodeInvalidRequest, "Login expired or not started", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Info("Identity provider returned an error", "error", providerErr)
		h.writeError(w, ErrorCodeAccessDenied, "Login was not completed", http.StatusForbidden)
		return
	}

	if !security.ConstantTimeEquals(q.Get("state"), pending.State) {
		h.auditLoginFailure(r, "state_mismatch")
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.writeError(w, ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
		return
	}

	token, err := h.provider.ExchangeCode(r.Context(), code, pending.Verifier)
	if err != nil {
		h.logger.Warn("Identity provider code exchange failed", "error", err)
		h.auditLoginFailure(r, "code_exchange")
		h.writeError(w, ErrorCodeAccessDenied, "Login failed", http.StatusBadGateway)
		return
	}

	info, err := h.provider.UserInfo(r.Context(), token)
	if err != nil {
		h.logger.Warn("Identity provider user info failed", "error", err)
		h.auditLoginFailure(r, "user_info")
		h.writeError(w, ErrorCodeAccessDenied, "Login failed", http.StatusBadGateway)
		return
	}

	if err := h.users.SaveUserProfile(r.Context(), &storage.UserProfile{
		ID:        info.ID,
		Email:     info.Email,
		Name:      info.Name,
		Picture:   info.Picture,
		UpdatedAt: h.now().UTC(),
	}); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	sess := userSession{UserID: info.ID, ExpiresAt: h.now().Add(h.config.SessionCookie.TTL)}
	if err := h.sealCookie(w, h.config.SessionCookie.Name, "/", sess, h.config.SessionCookie.TTL); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.auditor.LogEvent(security.Event{
		Type:   security.EventLoginSucceeded,
		UserID: info.ID,
	})

	http.Redirect(w, r, pending.ReturnTo, http.StatusFound)
}

// ServeLogout ends the browser session
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := h.CurrentUser(r); ok {
		h.auditor.LogEvent(security.Event{
			Type:   security.EventLogout,
			UserID: userID,
		})
	}
	h.clearCookie(w, h.config.SessionCookie.Name, "/")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) auditLoginFailure(r *http.Request, reason string) {
	h.auditor.LogEvent(security.Event{
		Type:      security.EventLoginFailed,
		IPAddress: h.ipResolver.ClientIP(r),
		Details:   map[string]any{"reason": reason},
	})
}
