package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/storage"
)

// DefaultCleanupInterval is how often expired rows are dropped.
const DefaultCleanupInterval = time.Minute

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	codes    map[string]*storage.AuthorizationCode // code hash -> code
	tokens   map[string]*storage.AccessToken       // token hash -> token
	profiles map[string]*storage.UserProfile
	sessions map[string]*storage.SessionRecord

	observer *storage.Observer
	logger   *slog.Logger
	now      func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Compile-time interface checks
var (
	_ storage.Store = (*Store)(nil)
)

// New creates a store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a store with a custom cleanup interval. Values
// <= 0 fall back to DefaultCleanupInterval.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.AccessToken),
		profiles:        make(map[string]*storage.UserProfile),
		sessions:        make(map[string]*storage.SessionRecord),
		logger:          slog.Default(),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver("memory", inst)
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient stores a new client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.observer.Start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with a client id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return storage.ErrClientExists
	}
	s.clients[client.ClientID] = cloneClient(client)
	return nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, done := s.observer.Start(ctx, "get_client")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(client), nil
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode stores an issued code keyed by its hash.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.observer.Start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.CodeHash == "" {
		return fmt.Errorf("authorization code with a hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes[code.CodeHash] = &c
	return nil
}

// GetActiveAuthorizationCode returns an unconsumed, unexpired code for clientID.
func (s *Store) GetActiveAuthorizationCode(ctx context.Context, codeHash, clientID string, now time.Time) (_ *storage.AuthorizationCode, err error) {
	_, done := s.observer.Start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.codes[codeHash]
	if !ok || code.ClientID != clientID || !code.Active(now) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	c := *code
	return &c, nil
}

// ConsumeAuthorizationCode marks a code consumed. The check and the write
// happen under one write lock.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (err error) {
	_, done := s.observer.Start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[codeHash]
	if !ok || !code.Active(now) {
		return storage.ErrAuthorizationCodeUsed
	}
	consumedAt := now
	code.ConsumedAt = &consumedAt
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveAccessToken stores an issued token keyed by its hash.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, done := s.observer.Start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.TokenHash == "" {
		return fmt.Errorf("access token with a hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.tokens[token.TokenHash] = &t
	return nil
}

// GetAccessToken retrieves a token by hash.
func (s *Store) GetAccessToken(ctx context.Context, tokenHash string) (_ *storage.AccessToken, err error) {
	_, done := s.observer.Start(ctx, "get_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	t := *token
	return &t, nil
}

// RevokeAccessToken sets RevokedAt once.
func (s *Store) RevokeAccessToken(ctx context.Context, tokenHash string, now time.Time) (err error) {
	_, done := s.observer.Start(ctx, "revoke_access_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if token, ok := s.tokens[tokenHash]; ok && token.RevokedAt == nil {
		revokedAt := now
		token.RevokedAt = &revokedAt
	}
	return nil
}

// ============================================================
// UserStore
// ============================================================

// SaveUserProfile inserts or replaces a profile.
func (s *Store) SaveUserProfile(ctx context.Context, profile *storage.UserProfile) (err error) {
	_, done := s.observer.Start(ctx, "save_user_profile")
	defer func() { done(err) }()

	if profile == nil || profile.ID == "" {
		return fmt.Errorf("user profile with an id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := *profile
	s.profiles[profile.ID] = &p
	return nil
}

// GetUserProfile retrieves a profile by user id.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (_ *storage.UserProfile, err error) {
	_, done := s.observer.Start(ctx, "get_user_profile")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	p := *profile
	return &p, nil
}

// ============================================================
// SessionStore
// ============================================================

// RecordSession stores a session record.
func (s *Store) RecordSession(ctx context.Context, record *storage.SessionRecord) (err error) {
	_, done := s.observer.Start(ctx, "record_session")
	defer func() { done(err) }()

	if record == nil || record.SessionID == "" {
		return fmt.Errorf("session record with an id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := *record
	s.sessions[record.SessionID] = &r
	return nil
}

// TouchSession bumps LastActiveAt.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) (err error) {
	_, done := s.observer.Start(ctx, "touch_session")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.sessions[sessionID]; ok {
		record.LastActiveAt = at
	}
	return nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	_, done := s.observer.Start(ctx, "delete_session")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// GetSession returns a copy of a session record. It is not part of
// storage.SessionStore and exists for inspection and tests.
func (s *Store) GetSession(sessionID string) (storage.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.sessions[sessionID]
	if !ok {
		return storage.SessionRecord{}, false
	}
	return *record, true
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup(s.now())
		}
	}
}

// cleanup drops codes that can no longer be exchanged and tokens that can
// no longer be validated.
func (s *Store) cleanup(now time.Time) (codes, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, code := range s.codes {
		if !code.Active(now) {
			delete(s.codes, hash)
			codes++
		}
	}
	for hash, token := range s.tokens {
		if !token.Valid(now) {
			delete(s.tokens, hash)
			tokens++
		}
	}

	if codes > 0 || tokens > 0 {
		s.logger.Debug("Cleaned up expired credentials",
			"codes", codes,
			"tokens", tokens)
	}
	return codes, tokens
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	out.GrantTypes = append([]string(nil), c.GrantTypes...)
	out.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	return &out
}
