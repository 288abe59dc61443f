package gateway

import "github.com/giantswarm/mcp-gateway/server"

// OAuthError is the error type returned by the authorization server.
type OAuthError = server.OAuthError

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest         = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant           = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient          = server.ErrorCodeInvalidClient
	ErrorCodeInvalidClientMetadata  = server.ErrorCodeInvalidClientMetadata
	ErrorCodeInvalidToken           = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType   = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedContentType = server.ErrorCodeUnsupportedContentType
	ErrorCodeServerError            = server.ErrorCodeServerError
	ErrorCodeAccessDenied           = server.ErrorCodeAccessDenied
	ErrorCodeLoginRequired          = server.ErrorCodeLoginRequired
	ErrorCodeRateLimitExceeded      = server.ErrorCodeRateLimitExceeded
)
