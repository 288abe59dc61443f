package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

// Defaults applied when a registration omits grant or response types.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	ResponseTypeCode           = "code"
)

// Registration rejection messages returned in error_description.
const (
	msgRedirectURIsRequired = "At least one redirect URI is required"
	msgRedirectURIPolicy    = "Redirect URIs must use HTTPS (or http://localhost for development)"
)

// DefaultClientName is stored for clients that register without a name.
const DefaultClientName = "Unknown Client"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("redirect_uri", func(fl validator.FieldLevel) bool {
		return IsAllowedRedirectURI(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("register redirect_uri validation: %v", err))
	}
	return v
}

// ClientRegistration is the RFC 7591 registration request body.
type ClientRegistration struct {
	ClientName    string   `json:"client_name,omitempty" validate:"max=255"`
	RedirectURIs  []string `json:"redirect_uris" validate:"required,min=1,dive,redirect_uri"`
	GrantTypes    []string `json:"grant_types,omitempty" validate:"omitempty,dive,required,max=64"`
	ResponseTypes []string `json:"response_types,omitempty" validate:"omitempty,dive,required,max=64"`
}

// RegisterClient validates and persists a new client. The plaintext secret
// is returned exactly once; only its hash is stored.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration, clientIP string) (_ *storage.Client, _ string, err error) {
	ctx, span := s.tracer.Start(ctx, "server.RegisterClient")
	defer func() { endSpan(span, err) }()

	if reg == nil {
		reg = &ClientRegistration{}
	}

	if oauthErr := validateRegistration(reg); oauthErr != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventClientRegistrationRejected,
			IPAddress: clientIP,
			Details: map[string]any{
				"reason": oauthErr.Description,
			},
		})
		s.Logger.Warn("Client registration rejected",
			"reason", oauthErr.Description,
			"client_ip", clientIP)
		return nil, "", oauthErr
	}

	clientSecret, err := security.GenerateSecret(security.ClientSecretBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate client secret: %w", err)
	}

	client := &storage.Client{
		ClientID:         uuid.NewString(),
		ClientSecretHash: security.HashCredential(clientSecret),
		ClientName:       clientName(reg.ClientName),
		RedirectURIs:     append([]string(nil), reg.RedirectURIs...),
		GrantTypes:       defaultIfEmpty(reg.GrantTypes, GrantTypeAuthorizationCode),
		ResponseTypes:    defaultIfEmpty(reg.ResponseTypes, ResponseTypeCode),
		CreatedAt:        s.now().UTC(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, clientIP, len(client.RedirectURIs))
	s.metrics().RecordClientRegistration(ctx)

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uri_count", len(client.RedirectURIs),
		"client_ip", clientIP)

	return client, clientSecret, nil
}

// GetClient retrieves a client by ID (for use by handler)
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// validateRegistration maps validator failures onto invalid_client_metadata
// with a human-readable reason.
func validateRegistration(reg *ClientRegistration) *OAuthError {
	err := validate.Struct(reg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ErrInvalidClientMetadata("Invalid client metadata")
	}

	fe := verrs[0]
	switch {
	case fe.Tag() == "redirect_uri":
		return ErrInvalidClientMetadata(msgRedirectURIPolicy)
	case strings.HasPrefix(fe.StructField(), "RedirectURIs"):
		return ErrInvalidClientMetadata(msgRedirectURIsRequired)
	default:
		return ErrInvalidClientMetadata(fmt.Sprintf("Invalid value for %s", jsonFieldName(fe.StructField())))
	}
}

func jsonFieldName(structField string) string {
	if i := strings.IndexByte(structField, '['); i >= 0 {
		structField = structField[:i]
	}
	switch structField {
	case "ClientName":
		return "client_name"
	case "GrantTypes":
		return "grant_types"
	case "ResponseTypes":
		return "response_types"
	default:
		return structField
	}
}

func defaultIfEmpty(values []string, fallback string) []string {
	if len(values) == 0 {
		return []string{fallback}
	}
	return append([]string(nil), values...)
}

func clientName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultClientName
	}
	return name
}
