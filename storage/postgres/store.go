package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/giantswarm/mcp-gateway/instrumentation"
	"github.com/giantswarm/mcp-gateway/storage"
)

// uniqueViolation is the SQLSTATE for a primary key or unique constraint clash.
const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db       DB
	observer *storage.Observer
	logger   *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a store on db.
func New(db DB) *Store {
	return &Store{db: db, logger: slog.Default()}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver("postgres", inst)
}

// ============================================================
// ClientStore
// ============================================================

const insertClientSQL = `
INSERT INTO oauth_clients (client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// SaveClient inserts a new client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.observer.Start(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with a client id is required")
	}

	_, err = s.db.Exec(ctx, insertClientSQL,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientName,
		nonNil(client.RedirectURIs),
		nonNil(client.GrantTypes),
		nonNil(client.ResponseTypes),
		client.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrClientExists
		}
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

const selectClientSQL = `
SELECT client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types, created_at
FROM oauth_clients
WHERE client_id = $1`

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.observer.Start(ctx, "get_client")
	defer func() { done(err) }()

	var c storage.Client
	err = s.db.QueryRow(ctx, selectClientSQL, clientID).Scan(
		&c.ClientID,
		&c.ClientSecretHash,
		&c.ClientName,
		&c.RedirectURIs,
		&c.GrantTypes,
		&c.ResponseTypes,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("select client: %w", err)
	}
	return &c, nil
}

// ============================================================
// CodeStore
// ============================================================

const insertCodeSQL = `
INSERT INTO oauth_codes (code_hash, client_id, user_id, redirect_uri, code_challenge, code_challenge_method, scope, state, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// SaveAuthorizationCode inserts an issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.observer.Start(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.CodeHash == "" {
		return fmt.Errorf("authorization code with a hash is required")
	}

	_, err = s.db.Exec(ctx, insertCodeSQL,
		code.CodeHash,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Scope,
		code.State,
		code.ExpiresAt,
		code.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert authorization code: %w", err)
	}
	return nil
}

const selectActiveCodeSQL = `
SELECT code_hash, client_id, user_id, redirect_uri, code_challenge, code_challenge_method, scope, state, expires_at, consumed_at, created_at
FROM oauth_codes
WHERE code_hash = $1 AND client_id = $2 AND consumed_at IS NULL AND expires_at > $3`

// GetActiveAuthorizationCode returns an unconsumed, unexpired code for clientID.
func (s *Store) GetActiveAuthorizationCode(ctx context.Context, codeHash, clientID string, now time.Time) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.observer.Start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	var c storage.AuthorizationCode
	err = s.db.QueryRow(ctx, selectActiveCodeSQL, codeHash, clientID, now).Scan(
		&c.CodeHash,
		&c.ClientID,
		&c.UserID,
		&c.RedirectURI,
		&c.CodeChallenge,
		&c.CodeChallengeMethod,
		&c.Scope,
		&c.State,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("select authorization code: %w", err)
	}
	return &c, nil
}

const consumeCodeSQL = `
UPDATE oauth_codes
SET consumed_at = $2
WHERE code_hash = $1 AND consumed_at IS NULL AND expires_at > $2`

// ConsumeAuthorizationCode marks a code consumed with one conditional
// UPDATE. Zero affected rows means another request got there first or the
// code expired in between.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (err error) {
	ctx, done := s.observer.Start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	tag, err := s.db.Exec(ctx, consumeCodeSQL, codeHash, now)
	if err != nil {
		return fmt.Errorf("consume authorization code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrAuthorizationCodeUsed
	}
	return nil
}

// ============================================================
// TokenStore
// ============================================================

const insertTokenSQL = `
INSERT INTO oauth_tokens (token_hash, client_id, user_id, scope, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// SaveAccessToken inserts an issued token.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.observer.Start(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.TokenHash == "" {
		return fmt.Errorf("access token with a hash is required")
	}

	_, err = s.db.Exec(ctx, insertTokenSQL,
		token.TokenHash,
		token.ClientID,
		token.UserID,
		token.Scope,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

const selectTokenSQL = `
SELECT token_hash, client_id, user_id, scope, expires_at, revoked_at, created_at
FROM oauth_tokens
WHERE token_hash = $1`

// GetAccessToken retrieves a token by hash.
func (s *Store) GetAccessToken(ctx context.Context, tokenHash string) (_ *storage.AccessToken, err error) {
	ctx, done := s.observer.Start(ctx, "get_access_token")
	defer func() { done(err) }()

	var t storage.AccessToken
	err = s.db.QueryRow(ctx, selectTokenSQL, tokenHash).Scan(
		&t.TokenHash,
		&t.ClientID,
		&t.UserID,
		&t.Scope,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("select access token: %w", err)
	}
	return &t, nil
}

const revokeTokenSQL = `
UPDATE oauth_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL`

// RevokeAccessToken sets revoked_at once.
func (s *Store) RevokeAccessToken(ctx context.Context, tokenHash string, now time.Time) (err error) {
	ctx, done := s.observer.Start(ctx, "revoke_access_token")
	defer func() { done(err) }()

	if _, err = s.db.Exec(ctx, revokeTokenSQL, tokenHash, now); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// ============================================================
// UserStore
// ============================================================

const upsertProfileSQL = `
INSERT INTO user_profiles (id, email, name, picture, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email, name = EXCLUDED.name, picture = EXCLUDED.picture, updated_at = EXCLUDED.updated_at`

// SaveUserProfile inserts or updates a profile.
func (s *Store) SaveUserProfile(ctx context.Context, profile *storage.UserProfile) (err error) {
	ctx, done := s.observer.Start(ctx, "save_user_profile")
	defer func() { done(err) }()

	if profile == nil || profile.ID == "" {
		return fmt.Errorf("user profile with an id is required")
	}

	_, err = s.db.Exec(ctx, upsertProfileSQL,
		profile.ID,
		profile.Email,
		profile.Name,
		profile.Picture,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user profile: %w", err)
	}
	return nil
}

const selectProfileSQL = `
SELECT id, email, name, picture, updated_at
FROM user_profiles
WHERE id = $1`

// GetUserProfile retrieves a profile by user id.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (_ *storage.UserProfile, err error) {
	ctx, done := s.observer.Start(ctx, "get_user_profile")
	defer func() { done(err) }()

	var p storage.UserProfile
	err = s.db.QueryRow(ctx, selectProfileSQL, userID).Scan(
		&p.ID,
		&p.Email,
		&p.Name,
		&p.Picture,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("select user profile: %w", err)
	}
	return &p, nil
}

// ============================================================
// SessionStore
// ============================================================

const insertSessionSQL = `
INSERT INTO mcp_sessions (session_id, user_id, client_id, created_at, last_active_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id) DO NOTHING`

// RecordSession inserts a session record.
func (s *Store) RecordSession(ctx context.Context, record *storage.SessionRecord) (err error) {
	ctx, done := s.observer.Start(ctx, "record_session")
	defer func() { done(err) }()

	if record == nil || record.SessionID == "" {
		return fmt.Errorf("session record with an id is required")
	}

	_, err = s.db.Exec(ctx, insertSessionSQL,
		record.SessionID,
		record.UserID,
		record.ClientID,
		record.CreatedAt,
		record.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const touchSessionSQL = `UPDATE mcp_sessions SET last_active_at = $2 WHERE session_id = $1`

// TouchSession bumps last_active_at.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) (err error) {
	ctx, done := s.observer.Start(ctx, "touch_session")
	defer func() { done(err) }()

	if _, err = s.db.Exec(ctx, touchSessionSQL, sessionID, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

const deleteSessionSQL = `DELETE FROM mcp_sessions WHERE session_id = $1`

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	ctx, done := s.observer.Start(ctx, "delete_session")
	defer func() { done(err) }()

	if _, err = s.db.Exec(ctx, deleteSessionSQL, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ============================================================
// Housekeeping
// ============================================================

const deleteExpiredCodesSQL = `DELETE FROM oauth_codes WHERE expires_at <= $1 OR consumed_at IS NOT NULL`

const deleteExpiredTokensSQL = `DELETE FROM oauth_tokens WHERE expires_at <= $1 OR revoked_at IS NOT NULL`

// DeleteExpired removes codes and tokens that can no longer be used.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (codes, tokens int64, err error) {
	ctx, done := s.observer.Start(ctx, "delete_expired")
	defer func() { done(err) }()

	tag, err := s.db.Exec(ctx, deleteExpiredCodesSQL, now)
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired codes: %w", err)
	}
	codes = tag.RowsAffected()

	tag, err = s.db.Exec(ctx, deleteExpiredTokensSQL, now)
	if err != nil {
		return codes, 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	tokens = tag.RowsAffected()

	if codes > 0 || tokens > 0 {
		s.logger.Debug("Deleted expired credentials", "codes", codes, "tokens", tokens)
	}
	return codes, tokens, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
