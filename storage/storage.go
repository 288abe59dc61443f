package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every implementation. Callers match them with
// errors.Is; any other error is a backend failure.
var (
	ErrClientNotFound            = errors.New("client not found")
	ErrClientExists              = errors.New("client already exists")
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")
	ErrAuthorizationCodeUsed     = errors.New("authorization code already used or expired")
	ErrTokenNotFound             = errors.New("token not found")
	ErrUserNotFound              = errors.New("user not found")
)

// Client is a dynamically registered OAuth client.
type Client struct {
	ClientID         string
	ClientSecretHash string
	ClientName       string
	RedirectURIs     []string
	GrantTypes       []string
	ResponseTypes    []string
	CreatedAt        time.Time
}

// AuthorizationCode is a one-time code issued on user approval.
type AuthorizationCode struct {
	CodeHash            string
	ClientID            string
	UserID              string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
	State               string
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
	CreatedAt           time.Time
}

// Active reports whether the code is unconsumed and unexpired at now.
func (c *AuthorizationCode) Active(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}

// AccessToken is an issued bearer token.
type AccessToken struct {
	TokenHash string
	ClientID  string
	UserID    string
	Scope     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Valid reports whether the token is unrevoked and unexpired at now.
func (t *AccessToken) Valid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// UserProfile is the identity asserted by the upstream identity provider.
type UserProfile struct {
	ID        string
	Email     string
	Name      string
	Picture   string
	UpdatedAt time.Time
}

// SessionRecord is the durable trace of a protocol session. The live
// transport itself only exists in memory.
type SessionRecord struct {
	SessionID    string
	UserID       string
	ClientID     string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// ClientStore persists registered clients.
type ClientStore interface {
	// SaveClient stores a new client. ErrClientExists if the id is taken.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns ErrClientNotFound for unknown ids.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// CodeStore persists authorization codes.
type CodeStore interface {
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetActiveAuthorizationCode returns the code with the given hash that
	// belongs to clientID and is active at now. Anything else, including a
	// consumed or expired code, is ErrAuthorizationCodeNotFound.
	GetActiveAuthorizationCode(ctx context.Context, codeHash, clientID string, now time.Time) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode sets ConsumedAt to now if and only if it is
	// still nil and the code has not expired, as a single atomic step. When
	// the guard does not hold it returns ErrAuthorizationCodeUsed.
	ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) error
}

// TokenStore persists access tokens.
type TokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken returns ErrTokenNotFound for unknown hashes. Revoked
	// and expired tokens are returned as stored.
	GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error)

	// RevokeAccessToken sets RevokedAt if unset. Unknown hashes and already
	// revoked tokens are not errors.
	RevokeAccessToken(ctx context.Context, tokenHash string, now time.Time) error
}

// UserStore persists user profiles received at login.
type UserStore interface {
	SaveUserProfile(ctx context.Context, profile *UserProfile) error

	// GetUserProfile returns ErrUserNotFound for unknown ids.
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// SessionStore keeps the audit trail of protocol sessions.
type SessionStore interface {
	RecordSession(ctx context.Context, record *SessionRecord) error

	// TouchSession bumps LastActiveAt. Unknown ids are ignored.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// DeleteSession removes the record. Unknown ids are ignored.
	DeleteSession(ctx context.Context, sessionID string) error
}

// Store is the union implemented by every backend.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
	UserStore
	SessionStore
}
