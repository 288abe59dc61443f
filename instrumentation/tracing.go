package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys. Only metadata goes here, never credential
// values.
const (
	AttrClientID     = "oauth.client_id"
	AttrUserID       = "oauth.user_id"
	AttrScope        = "oauth.scope"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrError        = "oauth.error"

	AttrSessionID = "mcp.session_id"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	AttrRateLimiterType = "security.rate_limiter.type"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span and marks it failed (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// FinishSpan records err or success on span.
func FinishSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	SetSpanSuccess(span)
}

// AddOAuthFlowAttributes adds the non-empty flow identifiers to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if span == nil {
		return
	}
	if clientID != "" {
		span.SetAttributes(attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		span.SetAttributes(attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		span.SetAttributes(attribute.String(AttrScope, scope))
	}
}
