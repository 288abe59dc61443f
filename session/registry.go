package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/security"
)

const (
	// DefaultMaxSessions is the live session ceiling
	DefaultMaxSessions = 1000

	// DefaultIdleTimeout is how long a session may go without a request
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultSweepInterval is how often idle sessions are looked for
	DefaultSweepInterval = 5 * time.Minute
)

// Reasons a session leaves the registry, used for metrics and removal hooks.
const (
	ReasonClient    = "client"
	ReasonTransport = "transport"
	ReasonIdle      = "idle"
	ReasonShutdown  = "shutdown"
)

var (
	// ErrCapacityExceeded is returned by Create when MaxSessions are live
	ErrCapacityExceeded = errors.New("too many active sessions")

	// ErrTransportClosed fails a request whose transport closed mid-flight
	ErrTransportClosed = errors.New("session transport closed")
)

// Transport carries one protocol session. ServeHTTP handles every request
// addressed to the session; Close may be called more than once.
type Transport interface {
	http.Handler
	Close() error
	Done() <-chan struct{}
}

// TransportFactory builds the transport for a new session.
type TransportFactory func(sessionID, ownerID string) (Transport, error)

// RemovalHook is called after a session left the registry, outside the lock.
type RemovalHook func(sessionID, ownerID, reason string)

// Config holds registry limits
type Config struct {
	// MaxSessions bounds the number of live sessions. Default: 1000
	MaxSessions int

	// IdleTimeout evicts sessions without activity for longer. Default: 30m
	IdleTimeout time.Duration

	// SweepInterval is the period of the eviction sweep. Default: 5m
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

type entry struct {
	transport    Transport
	ownerID      string
	lastActivity time.Time
}

// Registry is the table of live sessions. All map access happens under mu;
// transports are always closed after mu is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry

	newTransport TransportFactory
	config       Config
	logger       *slog.Logger
	auditor      *security.Auditor
	inst         *instrumentation.Instrumentation
	onRemove     []RemovalHook
	now          func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewRegistry creates a registry. The sweep does not run until Start.
func NewRegistry(factory TransportFactory, config Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:     make(map[string]*entry),
		newTransport: factory,
		config:       config.withDefaults(),
		logger:       logger,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
}

// SetAuditor sets the security auditor
func (r *Registry) SetAuditor(aud *security.Auditor) {
	r.auditor = aud
}

// SetInstrumentation enables session metrics and the active sessions gauge.
func (r *Registry) SetInstrumentation(inst *instrumentation.Instrumentation) error {
	r.inst = inst
	if inst == nil {
		return nil
	}
	return inst.RegisterActiveSessionsCallback(func() int64 { return int64(r.Len()) })
}

// OnRemove registers a hook called whenever a session leaves the registry.
// Hooks must be registered before the registry is used.
func (r *Registry) OnRemove(hook RemovalHook) {
	r.onRemove = append(r.onRemove, hook)
}

// Config returns the effective configuration.
func (r *Registry) Config() Config {
	return r.config
}

// Create opens a session for ownerID. At capacity it returns
// ErrCapacityExceeded and the live count is unchanged.
func (r *Registry) Create(ownerID string) (string, Transport, error) {
	if ownerID == "" {
		return "", nil, fmt.Errorf("owner id is required")
	}

	// Fast rejection before building a transport
	if r.Len() >= r.config.MaxSessions {
		r.reject(ownerID)
		return "", nil, ErrCapacityExceeded
	}

	sessionID := uuid.NewString()
	transport, err := r.newTransport(sessionID, ownerID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r.mu.Lock()
	if len(r.sessions) >= r.config.MaxSessions {
		r.mu.Unlock()
		// Lost a race for the last slot
		r.closeTransport(sessionID, transport)
		r.reject(ownerID)
		return "", nil, ErrCapacityExceeded
	}
	r.sessions[sessionID] = &entry{
		transport:    transport,
		ownerID:      ownerID,
		lastActivity: r.now(),
	}
	r.mu.Unlock()

	r.auditor.LogSessionEvent(security.EventSessionCreated, sessionID, ownerID)
	r.inst.Metrics().RecordSessionCreated(context.Background())
	r.logger.Debug("Session created", "session_id", sessionID)

	return sessionID, transport, nil
}

// Get returns the transport of a session owned by requesterID and records
// activity. A foreign session is reported exactly like a missing one.
func (r *Registry) Get(sessionID, requesterID string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok || e.ownerID != requesterID {
		return nil, false
	}
	select {
	case <-e.transport.Done():
		// Closing; Remove will follow
		return nil, false
	default:
	}

	e.lastActivity = r.now()
	return e.transport, true
}

// Close removes a session owned by requesterID and closes its transport.
// The session is gone even when the transport fails to close.
func (r *Registry) Close(sessionID, requesterID string) bool {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok || e.ownerID != requesterID {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.closeTransport(sessionID, e.transport)
	r.removed(sessionID, e.ownerID, ReasonClient, security.EventSessionClosed)
	return true
}

// Remove drops a session whose transport closed itself. It does not close
// the transport again.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok {
		r.removed(sessionID, e.ownerID, ReasonTransport, security.EventSessionClosed)
	}
}

// Sweep evicts sessions idle for longer than IdleTimeout and returns how
// many were evicted.
func (r *Registry) Sweep() int {
	now := r.now()

	type evicted struct {
		id string
		e  *entry
	}
	var victims []evicted

	r.mu.Lock()
	for id, e := range r.sessions {
		if now.Sub(e.lastActivity) > r.config.IdleTimeout {
			delete(r.sessions, id)
			victims = append(victims, evicted{id: id, e: e})
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		r.closeTransport(v.id, v.e.transport)
		r.removed(v.id, v.e.ownerID, ReasonIdle, security.EventSessionEvicted)
	}

	if len(victims) > 0 {
		r.logger.Info("Evicted idle sessions",
			"count", len(victims),
			"idle_timeout", r.config.IdleTimeout)
	}
	return len(victims)
}

// Start launches the sweep goroutine. Only the first call has an effect.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.sweepLoop()
	})
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}

// Stop ends the sweep and closes every live transport. Safe to call more
// than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()

		r.mu.Lock()
		all := r.sessions
		r.sessions = make(map[string]*entry)
		r.mu.Unlock()

		for id, e := range all {
			r.closeTransport(id, e.transport)
			r.removed(id, e.ownerID, ReasonShutdown, security.EventSessionClosed)
		}

		if len(all) > 0 {
			r.logger.Info("Closed sessions on shutdown", "count", len(all))
		}
	})
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) closeTransport(sessionID string, t Transport) {
	if err := t.Close(); err != nil {
		r.logger.Warn("Failed to close session transport",
			"session_id", sessionID,
			"error", err)
	}
}

func (r *Registry) removed(sessionID, ownerID, reason, eventType string) {
	r.auditor.LogSessionEvent(eventType, sessionID, ownerID)
	r.inst.Metrics().RecordSessionClosed(context.Background(), reason)
	for _, hook := range r.onRemove {
		hook(sessionID, ownerID, reason)
	}
}

func (r *Registry) reject(ownerID string) {
	r.auditor.LogSessionEvent(security.EventSessionCapacityExceeded, "", ownerID)
	r.inst.Metrics().RecordSessionRejected(context.Background())
	r.logger.Warn("Session rejected at capacity",
		"max_sessions", r.config.MaxSessions)
}
