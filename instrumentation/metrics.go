package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments recorded by the gateway
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth flow
	ClientRegistered       metric.Int64Counter
	AuthorizationDecisions metric.Int64Counter
	CodeExchanged          metric.Int64Counter
	CodeExchangeFailed     metric.Int64Counter
	TokenRevoked           metric.Int64Counter

	// Security
	PKCEValidationFailed metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter
	RateLimiterEntries   metric.Int64ObservableGauge

	// Sessions
	SessionsCreated  metric.Int64Counter
	SessionsClosed   metric.Int64Counter
	SessionsRejected metric.Int64Counter
	SessionsActive   metric.Int64ObservableGauge

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

type counterSpec struct {
	dst   *metric.Int64Counter
	scope string
	name  string
	desc  string
	unit  string
}

// newMetrics creates all instruments. Observable gauges are created on the
// same meter that later registers their callback.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http", "gateway.http.requests", "Total number of HTTP requests", "{request}"},
		{&m.ClientRegistered, "server", "oauth.client.registered", "Number of dynamically registered clients", "{client}"},
		{&m.AuthorizationDecisions, "server", "oauth.authorization.decisions", "Authorization requests approved or denied by users", "{decision}"},
		{&m.CodeExchanged, "server", "oauth.code.exchanged", "Authorization codes exchanged for access tokens", "{code}"},
		{&m.CodeExchangeFailed, "server", "oauth.code.exchange_failed", "Failed authorization code exchanges by reason", "{code}"},
		{&m.TokenRevoked, "server", "oauth.token.revoked", "Access tokens revoked", "{token}"},
		{&m.PKCEValidationFailed, "security", "oauth.pkce.failed", "PKCE verifier mismatches", "{failure}"},
		{&m.RateLimitExceeded, "security", "gateway.rate_limit.exceeded", "Requests rejected by a rate limiter", "{request}"},
		{&m.SessionsCreated, "session", "mcp.session.created", "Protocol sessions created", "{session}"},
		{&m.SessionsClosed, "session", "mcp.session.closed", "Protocol sessions closed by reason", "{session}"},
		{&m.SessionsRejected, "session", "mcp.session.rejected", "Protocol sessions refused at capacity", "{session}"},
		{&m.StorageOperationTotal, "storage", "gateway.storage.operations", "Storage operations by operation and result", "{operation}"},
	}

	for _, c := range counters {
		counter, err := inst.Meter(c.scope).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram(
		"gateway.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram(
		"gateway.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.SessionsActive, err = inst.Meter("session").Int64ObservableGauge(
		"mcp.session.active",
		metric.WithDescription("Live protocol sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session.active gauge: %w", err)
	}

	m.RateLimiterEntries, err = inst.Meter("security").Int64ObservableGauge(
		"gateway.rate_limit.entries",
		metric.WithDescription("Identifiers tracked by rate limiters"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.entries gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	if m == nil {
		return
	}
	m.ClientRegistered.Add(ctx, 1)
}

// RecordAuthorizationDecision records an approve or deny decision
func (m *Metrics) RecordAuthorizationDecision(ctx context.Context, clientID string, approved bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	m.AuthorizationDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String("decision", decision),
	))
}

// RecordCodeExchange records a successful authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordCodeExchangeFailure records a rejected exchange. reason is a fixed
// vocabulary ("not_found", "redirect_mismatch", "client_auth", "pkce", "consumed").
func (m *Metrics) RecordCodeExchangeFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CodeExchangeFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	if reason == "pkce" {
		m.PKCEValidationFailed.Add(ctx, 1)
	}
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context) {
	if m == nil {
		return
	}
	m.TokenRevoked.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordSessionCreated records a new protocol session
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(ctx, 1)
}

// RecordSessionClosed records a session removal. reason is "client",
// "transport", "idle" or "shutdown".
func (m *Metrics) RecordSessionClosed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordSessionRejected records a session refused at capacity
func (m *Metrics) RecordSessionRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsRejected.Add(ctx, 1)
}

// RecordStorageOperation records a storage call
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageType, backend),
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
