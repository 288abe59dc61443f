package server

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/security"
	"github.com/giantswarm/mcp-gateway/storage"
)

// Server implements the OAuth 2.0 authorization server logic.
// It coordinates registration, authorization and token exchange over the
// storage backends.
type Server struct {
	clientStore     storage.ClientStore
	codeStore       storage.CodeStore
	tokenStore      storage.TokenStore
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new OAuth server
func New(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	// Apply secure defaults
	config = applySecureDefaults(config, logger)

	return &Server{
		clientStore: clientStore,
		codeStore:   codeStore,
		tokenStore:  tokenStore,
		Config:      config,
		Logger:      logger,
		tracer:      (*instrumentation.Instrumentation)(nil).Tracer("server"),
		now:         time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables spans and metrics for server operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
}

// metrics returns the metrics holder, nil when instrumentation is off.
func (s *Server) metrics() *instrumentation.Metrics {
	return s.Instrumentation.Metrics()
}

// endSpan records the outcome on span and ends it.
func endSpan(span trace.Span, err error) {
	instrumentation.FinishSpan(span, err)
	span.End()
}
