package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/providers"
	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/server"
	"github.com/giantswarm/mcp-gateway/session"
	"github.com/giantswarm/mcp-gateway/storage"
)

// Endpoint paths
const (
	PathRegister                = "/register"
	PathAuthorize               = "/authorize"
	PathToken                   = "/token"
	PathRevoke                  = "/revoke"
	PathAuthorizationServerMeta = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMeta   = "/.well-known/oauth-protected-resource"
	PathMCP                     = "/mcp"
	PathLogin                   = "/login"
	PathLoginCallback           = "/login/callback"
	PathLogout                  = "/logout"
	PathHealth                  = "/healthz"
)

const (
	tokenEndpointAuthMethodPost = "client_secret_post"
	tokenEndpointAuthMethodNone = "none"

	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"

	actionApprove = "approve"
	actionDeny    = "deny"
)

// Handler serves the gateway's HTTP endpoints.
type Handler struct {
	server   *server.Server
	sessions http.Handler
	users    storage.UserStore
	provider providers.Provider
	config   *Config
	logger   *slog.Logger
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation

	cookies       *security.Encryptor
	secureCookies bool
	ipResolver    security.IPResolver

	registerLimiter *security.RateLimiter
	tokenLimiter    *security.RateLimiter

	now func() time.Time
}

// NewHandler creates the HTTP handler. sessions serves /mcp once the bearer
// token is validated; provider may be nil, in which case /login answers 503.
func NewHandler(
	srv *server.Server,
	sessions http.Handler,
	users storage.UserStore,
	provider providers.Provider,
	config *Config,
	logger *slog.Logger,
) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("authorization server is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session handler is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config = applyDefaults(config, logger)

	cookies, err := newCookieEncryptor(config.SessionCookie.Secret)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		server:        srv,
		sessions:      sessions,
		users:         users,
		provider:      provider,
		config:        config,
		logger:        logger,
		auditor:       srv.Auditor,
		inst:          srv.Instrumentation,
		cookies:       cookies,
		secureCookies: strings.HasPrefix(srv.Config.Issuer, "https://"),
		ipResolver: security.IPResolver{
			TrustProxy:        srv.Config.TrustProxy,
			TrustedProxyCount: srv.Config.TrustedProxyCount,
		},
		now: time.Now,
	}

	if config.RateLimit.Rate > 0 {
		h.registerLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
		h.tokenLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
		if h.inst != nil {
			if err := h.inst.RegisterRateLimiterCallback(func() int64 {
				return int64(h.registerLimiter.Size() + h.tokenLimiter.Size())
			}); err != nil {
				h.Stop()
				return nil, fmt.Errorf("failed to register rate limiter gauge: %w", err)
			}
		}
	}

	return h, nil
}

func newCookieEncryptor(secret string) (*security.Encryptor, error) {
	if secret == "" {
		key, err := security.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate cookie key: %w", err)
		}
		return security.NewEncryptor(key)
	}
	if len(secret) < security.MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d characters", security.MinSecretLength)
	}
	return security.NewEncryptorFromSecret(secret, cookieKeyInfo)
}

// Stop releases the rate limiters' background goroutines.
func (h *Handler) Stop() {
	if h.registerLimiter != nil {
		h.registerLimiter.Stop()
	}
	if h.tokenLimiter != nil {
		h.tokenLimiter.Stop()
	}
}

// Routes returns the router with every endpoint and the cross-cutting
// middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.metricsMiddleware)
	r.Use(h.securityHeadersMiddleware)
	r.Use(h.corsMiddleware)

	r.Get(PathHealth, h.ServeHealth)

	r.Get(PathAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
	r.Get(PathProtectedResourceMeta, h.ServeProtectedResourceMetadata)
	r.Get(PathProtectedResourceMeta+PathMCP, h.ServeProtectedResourceMetadata)

	r.With(h.rateLimitMiddleware(h.registerLimiter, "register")).Post(PathRegister, h.ServeClientRegistration)
	r.Get(PathAuthorize, h.ServeAuthorization)
	r.Post(PathAuthorize, h.ServeAuthorizationDecision)
	r.With(h.rateLimitMiddleware(h.tokenLimiter, "token")).Post(PathToken, h.ServeToken)
	r.Post(PathRevoke, h.ServeTokenRevocation)

	r.Get(PathLogin, h.ServeLogin)
	r.Get(PathLoginCallback, h.ServeLoginCallback)
	r.Post(PathLogout, h.ServeLogout)

	r.With(h.RequireBearer).Handle(PathMCP, h.sessions)

	return r
}

// ServeHealth is the liveness probe
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	issuer := h.server.Config.Issuer
	writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + PathAuthorize,
		TokenEndpoint:                     issuer + PathToken,
		RegistrationEndpoint:              issuer + PathRegister,
		RevocationEndpoint:                issuer + PathRevoke,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode},
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256},
		TokenEndpointAuthMethodsSupported: []string{tokenEndpointAuthMethodPost, tokenEndpointAuthMethodNone},
	})
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata for /mcp
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	issuer := h.server.Config.Issuer
	writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:               issuer + PathMCP,
		AuthorizationServers:   []string{issuer},
		BearerMethodsSupported: []string{"header"},
	})
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	var reg server.ClientRegistration
	if err := h.decodeJSON(w, r, &reg); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	client, secret, err := h.server.RegisterClient(r.Context(), &reg, h.ipResolver.ClientIP(r))
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetNoStore(w)
	writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:              client.ClientID,
		ClientSecret:          secret,
		ClientIDIssuedAt:      client.CreatedAt.Unix(),
		ClientSecretExpiresAt: 0,
		ClientName:            client.ClientName,
		RedirectURIs:          client.RedirectURIs,
		GrantTypes:            client.GrantTypes,
		ResponseTypes:         client.ResponseTypes,
	})
}

func authorizationRequestFrom(get func(string) string) *server.AuthorizationRequest {
	return &server.AuthorizationRequest{
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		ResponseType:        get("response_type"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
		Scope:               get("scope"),
		State:               get("state"),
	}
}

// ServeAuthorization validates an authorize request. A browser without a
// login session is sent to /login first; a logged-in user gets the consent
// context as JSON.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	req := authorizationRequestFrom(r.URL.Query().Get)

	client, err := h.server.ValidateAuthorizationRequest(r.Context(), req)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	userID, ok := h.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, loginURL(r.URL.RequestURI()), http.StatusFound)
		return
	}

	security.SetNoStore(w)
	writeJSON(w, http.StatusOK, ConsentContext{
		ClientID:            req.ClientID,
		ClientName:          client.ClientName,
		RedirectURI:         req.RedirectURI,
		ResponseType:        req.ResponseType,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scope:               req.Scope,
		State:               req.State,
		UserID:              userID,
	})
}

// ServeAuthorizationDecision handles the consent form post
func (h *Handler) ServeAuthorizationDecision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	userID, ok := h.CurrentUser(r)
	if !ok {
		h.writeOAuthError(w, r, server.ErrLoginRequired("A logged-in user is required"))
		return
	}

	req := authorizationRequestFrom(r.PostForm.Get)

	var (
		redirectURL string
		err         error
	)
	switch r.PostForm.Get("action") {
	case actionApprove:
		redirectURL, err = h.server.ApproveAuthorization(r.Context(), userID, req)
	case actionDeny:
		redirectURL, err = h.server.DenyAuthorization(r.Context(), req)
	default:
		err = server.ErrInvalidRequest("action must be 'approve' or 'deny'")
	}
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// ServeToken handles the token endpoint. Bodies may be form encoded or JSON.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeTokenRequest(w, r)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	req.ClientIP = h.ipResolver.ClientIP(r)

	issued, err := h.server.ExchangeAuthorizationCode(r.Context(), req)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetNoStore(w)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: issued.AccessToken,
		TokenType:   issued.TokenType,
		ExpiresIn:   issued.ExpiresIn,
		Scope:       issued.Scope,
	})
}

func (h *Handler) decodeTokenRequest(w http.ResponseWriter, r *http.Request) (*server.TokenRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case contentTypeForm:
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, server.ErrInvalidRequest("Failed to parse request")
		}
		return &server.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
		}, nil
	case contentTypeJSON:
		var req server.TokenRequest
		if err := h.decodeJSON(w, r, &req); err != nil {
			return nil, server.ErrInvalidRequest("Invalid JSON body")
		}
		return &req, nil
	default:
		return nil, server.ErrUnsupportedContentType("Content-Type must be application/x-www-form-urlencoded or application/json")
	}
}

// ServeTokenRevocation handles the RFC 7009 revocation endpoint. Unknown
// tokens are not an error.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	if err := h.server.RevokeToken(r.Context(), r.PostForm.Get("token"), h.ipResolver.ClientIP(r)); err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			h.writeOAuthError(w, r, err)
			return
		}
		// RFC 7009: the client cannot act on a revocation failure
		security.LoggerWithRequestID(r.Context(), h.logger).Error("Failed to revoke token", "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// RequireBearer authenticates /mcp requests and passes the token owner to
// the session handler.
func (h *Handler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, ok := bearerToken(r)
		if !ok {
			h.writeUnauthorized(w, "Missing or malformed Authorization header")
			return
		}

		info, err := h.server.ValidateAccessToken(r.Context(), bearer)
		if err != nil {
			var oauthErr *OAuthError
			if !errors.As(err, &oauthErr) {
				h.writeOAuthError(w, r, err)
				return
			}
			h.auditor.LogAuthFailure("", "", h.ipResolver.ClientIP(r), "invalid_bearer")
			h.writeUnauthorized(w, oauthErr.Description)
			return
		}

		ctx := session.WithOwner(r.Context(), session.Owner{UserID: info.UserID, ClientID: info.ClientID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], server.TokenTypeBearer) {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	return dec.Decode(v)
}

// resourceMetadataURL is advertised in WWW-Authenticate challenges
func (h *Handler) resourceMetadataURL() string {
	return h.server.Config.Issuer + PathProtectedResourceMeta
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata=%q, error=%q, error_description=%q`,
		h.resourceMetadataURL(), ErrorCodeInvalidToken, description))
	h.writeError(w, ErrorCodeInvalidToken, description, http.StatusUnauthorized)
}

// writeOAuthError writes err as an OAuth error body. Errors that are not
// OAuth errors are logged and reported as server_error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	oauthErr := server.AsOAuthError(err)
	if oauthErr.Code == ErrorCodeServerError {
		security.LoggerWithRequestID(r.Context(), h.logger).Error("Request failed",
			"path", r.URL.Path,
			"error", err)
	}
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
