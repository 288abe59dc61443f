package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/internal/util"
	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

// TokenTypeBearer is the token_type of every issued token.
const TokenTypeBearer = "Bearer"

// deniedDescription is sent to the client when the user denies consent.
const deniedDescription = "The user denied the authorization request"

// AuthorizationRequest carries the authorize parameters. They are sent again
// with the consent decision because the server keeps no pending state.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	State               string
}

// TokenRequest is the token endpoint body, decoded from a form or JSON.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	CodeVerifier string `json:"code_verifier"`

	// ClientIP is filled in by the HTTP layer for auditing.
	ClientIP string `json:"-"`
}

// IssuedToken is the result of a successful exchange. AccessToken is the
// only place the plaintext value ever exists.
type IssuedToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	ExpiresAt   time.Time
	Scope       string
	ClientID    string
	UserID      string
}

// ValidateAuthorizationRequest checks an authorize request before any user
// interaction and fills in the default code_challenge_method. Failures are
// returned as invalid_request and must never be turned into a redirect,
// since the redirect URI is not trusted yet.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (_ *storage.Client, err error) {
	ctx, span := s.tracer.Start(ctx, "server.ValidateAuthorizationRequest")
	defer func() { endSpan(span, err) }()

	if req == nil {
		return nil, ErrInvalidRequest("Missing authorization request")
	}
	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
	)

	switch {
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	case req.RedirectURI == "":
		return nil, ErrInvalidRequest("redirect_uri is required")
	case req.ResponseType == "":
		return nil, ErrInvalidRequest("response_type is required")
	case req.ResponseType != ResponseTypeCode:
		return nil, ErrInvalidRequest("response_type must be 'code'")
	case req.CodeChallenge == "":
		return nil, ErrInvalidRequest("code_challenge is required")
	}

	if req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = PKCEMethodS256
	}
	if req.CodeChallengeMethod != PKCEMethodS256 {
		s.Auditor.LogAuthFailure("", req.ClientID, "", "unsupported_pkce_method")
		return nil, ErrInvalidRequest("code_challenge_method must be 'S256'")
	}
	span.SetAttributes(attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod))

	return s.clientForRedirect(ctx, req.ClientID, req.RedirectURI, "", "authorize")
}

// clientForRedirect loads the client and applies the same redirect check as
// ValidateRedirectURI. It is used at authorize time and again at decision time.
func (s *Server) clientForRedirect(ctx context.Context, clientID, redirectURI, userID, phase string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Auditor.LogAuthFailure(userID, clientID, "", "unknown_client")
			return nil, ErrInvalidRequest("Unknown client_id")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if !s.redirectURIAllowedForClient(client, redirectURI) {
		s.auditInvalidRedirect(clientID, userID, phase)
		s.Logger.Warn("Rejected redirect URI",
			"client_id", clientID,
			"phase", phase)
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	return client, nil
}

// ApproveAuthorization issues a one-time code for an authenticated user and
// returns the URL the user agent must be redirected to. All request fields are
// validated again because the decision arrives in a separate request.
func (s *Server) ApproveAuthorization(ctx context.Context, userID string, req *AuthorizationRequest) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "server.ApproveAuthorization")
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return "", ErrLoginRequired("User authentication required")
	}

	if _, err := s.ValidateAuthorizationRequest(ctx, req); err != nil {
		return "", err
	}
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, userID, req.Scope)

	code, err := security.GenerateSecret(security.AuthorizationCodeBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}

	now := s.now().UTC()
	authCode := &storage.AuthorizationCode{
		CodeHash:            security.HashCredential(code),
		ClientID:            req.ClientID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Scope:               req.Scope,
		State:               req.State,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		CreatedAt:           now,
	}
	if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	redirectURL, err := appendQuery(req.RedirectURI, map[string]string{
		"code":  code,
		"state": req.State,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build redirect: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationApproved,
		UserID:   userID,
		ClientID: req.ClientID,
		Details: map[string]any{
			"scope": req.Scope,
		},
	})
	s.metrics().RecordAuthorizationDecision(ctx, req.ClientID, true)

	s.Logger.Debug("Issued authorization code",
		"client_id", req.ClientID,
		"code_hash_prefix", util.SafeTruncate(authCode.CodeHash, 8))

	return redirectURL, nil
}

// DenyAuthorization returns the access_denied redirect. The redirect URI is
// re-validated exactly as for approval; nothing is persisted.
func (s *Server) DenyAuthorization(ctx context.Context, req *AuthorizationRequest) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "server.DenyAuthorization")
	defer func() { endSpan(span, err) }()

	if req == nil || req.ClientID == "" || req.RedirectURI == "" {
		return "", ErrInvalidRequest("client_id and redirect_uri are required")
	}

	if _, err := s.clientForRedirect(ctx, req.ClientID, req.RedirectURI, "", "deny"); err != nil {
		return "", err
	}

	redirectURL, err := appendQuery(req.RedirectURI, map[string]string{
		"error":             ErrorCodeAccessDenied,
		"error_description": deniedDescription,
		"state":             req.State,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build redirect: %w", err)
	}

	s.Auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationDenied,
		ClientID: req.ClientID,
	})
	s.metrics().RecordAuthorizationDecision(ctx, req.ClientID, false)

	return redirectURL, nil
}

// ExchangeAuthorizationCode trades a code for an access token in three
// phases. Lookup and validation have no side effects, so a rejected request
// leaves the code usable. The consume is a single conditional write; only the
// request that wins it gets a token.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (_ *IssuedToken, err error) {
	ctx, span := s.tracer.Start(ctx, "server.ExchangeAuthorizationCode")
	defer func() { endSpan(span, err) }()

	if err := validateTokenRequest(req); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
		attribute.String(instrumentation.AttrClientID, req.ClientID),
	)

	now := s.now().UTC()
	codeHash := security.HashCredential(req.Code)

	// Phase 1: lookup
	authCode, err := s.codeStore.GetActiveAuthorizationCode(ctx, codeHash, req.ClientID, now)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return nil, s.rejectExchange(ctx, req, "", "not_found", ErrInvalidGrant(descCodeInvalid))
		}
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}
	if !security.ConstantTimeEquals(authCode.CodeHash, codeHash) || !authCode.Active(now) {
		return nil, s.rejectExchange(ctx, req, "", "not_found", ErrInvalidGrant(descCodeInvalid))
	}

	// Phase 2: validate
	if authCode.RedirectURI != req.RedirectURI {
		return nil, s.rejectExchange(ctx, req, authCode.UserID, "redirect_mismatch", ErrInvalidGrant(descRedirectMismatch))
	}

	if req.ClientSecret != "" {
		if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
			var oauthErr *OAuthError
			if errors.As(err, &oauthErr) {
				return nil, s.rejectExchange(ctx, req, authCode.UserID, "client_auth", oauthErr)
			}
			return nil, err
		}
	}

	if err := verifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventPKCEValidationFailed,
			UserID:    authCode.UserID,
			ClientID:  req.ClientID,
			IPAddress: req.ClientIP,
			Details: map[string]any{
				"reason": err.Error(),
			},
		})
		return nil, s.rejectExchange(ctx, req, authCode.UserID, "pkce", ErrInvalidGrant(descPKCEFailed))
	}

	// Phase 3: consume
	if err := s.codeStore.ConsumeAuthorizationCode(ctx, codeHash, now); err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventAuthorizationCodeRace,
				UserID:    authCode.UserID,
				ClientID:  req.ClientID,
				IPAddress: req.ClientIP,
			})
			return nil, s.rejectExchange(ctx, req, authCode.UserID, "consumed", ErrInvalidGrant(descCodeInvalid))
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	issued, err := s.issueAccessToken(ctx, authCode, now)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(issued.UserID, issued.ClientID, req.ClientIP, issued.Scope)
	s.metrics().RecordCodeExchange(ctx, issued.ClientID)
	instrumentation.AddOAuthFlowAttributes(span, issued.ClientID, issued.UserID, issued.Scope)

	return issued, nil
}

// validateTokenRequest checks the grant type and the required fields.
func validateTokenRequest(req *TokenRequest) error {
	if req == nil || req.GrantType == "" {
		return ErrInvalidRequest("grant_type is required")
	}
	if req.GrantType != GrantTypeAuthorizationCode {
		return ErrUnsupportedGrantType("Only authorization_code is supported")
	}

	required := []struct {
		name  string
		value string
	}{
		{"code", req.Code},
		{"redirect_uri", req.RedirectURI},
		{"client_id", req.ClientID},
		{"code_verifier", req.CodeVerifier},
	}
	for _, field := range required {
		if field.value == "" {
			return ErrInvalidRequest(field.name + " is required")
		}
	}
	return nil
}

// authenticateClient compares the presented secret with the stored hash.
// Unknown clients and wrong secrets give the same error.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrInvalidClient(descClientAuthFailed)
		}
		return fmt.Errorf("failed to load client: %w", err)
	}
	if !security.ConstantTimeEquals(security.HashCredential(clientSecret), client.ClientSecretHash) {
		return ErrInvalidClient(descClientAuthFailed)
	}
	return nil
}

// issueAccessToken mints and persists a token for a consumed code.
func (s *Server) issueAccessToken(ctx context.Context, authCode *storage.AuthorizationCode, now time.Time) (*IssuedToken, error) {
	accessToken, err := security.GenerateSecret(security.AccessTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	ttl := s.Config.AccessTokenTTL
	token := &storage.AccessToken{
		TokenHash: security.HashCredential(accessToken),
		ClientID:  authCode.ClientID,
		UserID:    authCode.UserID,
		Scope:     authCode.Scope,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
		CreatedAt: now,
	}
	if err := s.tokenStore.SaveAccessToken(ctx, token); err != nil {
		s.Logger.Error("Failed to save access token after consuming code",
			"client_id", authCode.ClientID,
			"error", err)
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	return &IssuedToken{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   ttl,
		ExpiresAt:   token.ExpiresAt,
		Scope:       token.Scope,
		ClientID:    token.ClientID,
		UserID:      token.UserID,
	}, nil
}

// rejectExchange records a failed exchange and returns oauthErr.
func (s *Server) rejectExchange(ctx context.Context, req *TokenRequest, userID, reason string, oauthErr *OAuthError) error {
	s.Logger.Debug("Authorization code exchange rejected",
		"reason", reason,
		"client_id", req.ClientID,
		"code_hash_prefix", util.SafeTruncate(security.HashCredential(req.Code), 8))
	s.Auditor.LogAuthFailure(userID, req.ClientID, req.ClientIP, reason)
	s.metrics().RecordCodeExchangeFailure(ctx, reason)
	return oauthErr
}

// appendQuery adds the non-empty params to rawURL, keeping any existing query.
func appendQuery(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for key, value := range params {
		if value != "" {
			q.Set(key, value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
