package server

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

// Schemes accepted by the redirect URI policy.
const (
	SchemeHTTPS = "https"
	SchemeHTTP  = "http"
)

// loopbackHosts are the only hosts allowed with plain http.
var loopbackHosts = []string{"localhost", "127.0.0.1"}

// IsAllowedRedirectURI reports whether uri satisfies the redirect URI policy:
// https is always accepted, http only when the host is exactly localhost or
// 127.0.0.1 (any port). Everything else is rejected, including unparsable
// strings, relative references, fragments, javascript: and custom schemes.
func IsAllowedRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}

	// Userinfo lets "https://trusted@evil" read like a trusted host
	if parsed.User != nil || parsed.Host == "" {
		return false
	}

	// RFC 6749 Section 3.1.2: the endpoint URI must not include a fragment
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return false
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeHTTPS:
		return true
	case SchemeHTTP:
		return slices.Contains(loopbackHosts, strings.ToLower(parsed.Hostname()))
	default:
		return false
	}
}

// ValidateRedirectURI reports whether redirectURI may receive codes for
// clientID. It fails closed: an unknown client or a backend error yields false.
func (s *Server) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) bool {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.Logger.Error("Failed to load client for redirect URI validation",
				"client_id", clientID,
				"error", err)
		}
		return false
	}
	return s.redirectURIAllowedForClient(client, redirectURI)
}

// redirectURIAllowedForClient applies the registered-list membership check
// and the policy check to an already loaded client.
func (s *Server) redirectURIAllowedForClient(client *storage.Client, redirectURI string) bool {
	if len(client.RedirectURIs) == 0 {
		if !s.Config.AllowUnboundRedirectURIs {
			return false
		}
		s.Logger.Warn("Accepting redirect URI for client without registered redirect URIs",
			"client_id", client.ClientID)
		return IsAllowedRedirectURI(redirectURI)
	}

	if !slices.Contains(client.RedirectURIs, redirectURI) {
		return false
	}
	return IsAllowedRedirectURI(redirectURI)
}

// auditInvalidRedirect records a rejected redirect URI without logging the URI itself.
func (s *Server) auditInvalidRedirect(clientID, userID, phase string) {
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventInvalidRedirect,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"phase": phase,
		},
	})
}
