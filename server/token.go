package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

// TokenInfo is what a protected resource learns from a valid bearer token.
type TokenInfo struct {
	UserID    string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
}

// ValidateAccessToken resolves a bearer value. Unknown, revoked and expired
// tokens all produce the same invalid_token error.
func (s *Server) ValidateAccessToken(ctx context.Context, bearer string) (_ *TokenInfo, err error) {
	ctx, span := s.tracer.Start(ctx, "server.ValidateAccessToken")
	defer func() { endSpan(span, err) }()

	if bearer == "" {
		return nil, ErrInvalidToken(descTokenInvalid)
	}

	tokenHash := security.HashCredential(bearer)
	token, err := s.tokenStore.GetAccessToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken(descTokenInvalid)
		}
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	if !security.ConstantTimeEquals(token.TokenHash, tokenHash) || !token.Valid(s.now()) {
		return nil, ErrInvalidToken(descTokenInvalid)
	}

	return &TokenInfo{
		UserID:    token.UserID,
		ClientID:  token.ClientID,
		Scope:     token.Scope,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// RevokeAccessToken marks the token with tokenHash revoked. It is idempotent
// and an unknown hash is not an error.
func (s *Server) RevokeAccessToken(ctx context.Context, tokenHash string) (err error) {
	ctx, span := s.tracer.Start(ctx, "server.RevokeAccessToken")
	defer func() { endSpan(span, err) }()

	if err := s.tokenStore.RevokeAccessToken(ctx, tokenHash, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	s.metrics().RecordTokenRevocation(ctx)
	return nil
}

// RevokeToken revokes a plaintext token presented to the revocation endpoint
// (RFC 7009). The owner is looked up only for the audit record.
func (s *Server) RevokeToken(ctx context.Context, token, clientIP string) error {
	if token == "" {
		return ErrInvalidRequest("token is required")
	}

	tokenHash := security.HashCredential(token)

	var userID, clientID string
	if existing, err := s.tokenStore.GetAccessToken(ctx, tokenHash); err == nil {
		userID, clientID = existing.UserID, existing.ClientID
	} else if !errors.Is(err, storage.ErrTokenNotFound) {
		return fmt.Errorf("failed to look up access token: %w", err)
	}

	if err := s.RevokeAccessToken(ctx, tokenHash); err != nil {
		return err
	}

	if userID != "" {
		s.Auditor.LogTokenRevoked(userID, clientID, clientIP)
	}
	return nil
}
