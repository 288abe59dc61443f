package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/giantswarm/mcp-gateway/storage"
)

const (
	msgTooManySessions = "Too many active sessions"
	msgSessionNotFound = "Session not found"

	// recordTimeout bounds best-effort writes to the session audit table
	recordTimeout = 5 * time.Second
)

// Owner identifies the authenticated caller of an /mcp request.
type Owner struct {
	UserID   string
	ClientID string
}

type ownerKey struct{}

// WithOwner returns a context carrying the authenticated owner.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFromContext returns the owner set by WithOwner.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	owner, ok := ctx.Value(ownerKey{}).(Owner)
	if !ok || owner.UserID == "" {
		return Owner{}, false
	}
	return owner, true
}

// Handler serves the /mcp endpoint. It must sit behind middleware that
// authenticates the bearer token and calls WithOwner.
type Handler struct {
	registry *Registry
	recorder storage.SessionStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a handler over registry.
func NewHandler(registry *Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// SetRecorder keeps a durable record of sessions in store. Recording is
// best effort and never fails a request.
func (h *Handler) SetRecorder(store storage.SessionStore) {
	h.recorder = store
	if store == nil {
		return
	}
	h.registry.OnRemove(func(sessionID, _, _ string) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := store.DeleteSession(ctx, sessionID); err != nil {
			h.logger.Warn("Failed to delete session record",
				"session_id", sessionID,
				"error", err)
		}
	})
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	req, err := DecodeRequest(r)
	if err != nil {
		switch {
		case errors.Is(err, ErrMethodNotAllowed):
			w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, ", "))
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		default:
			writeError(w, http.StatusBadRequest, "Missing "+HeaderSessionID+" header")
		}
		return
	}

	switch req := req.(type) {
	case CreateSession:
		h.create(w, r, owner)
	case ResumeSession:
		h.resume(w, r, owner, req.ID)
	case CloseSession:
		h.close(w, r, owner, req.ID)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, owner Owner) {
	sessionID, transport, err := h.registry.Create(owner.UserID)
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			writeError(w, http.StatusServiceUnavailable, msgTooManySessions)
			return
		}
		h.logger.Error("Failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.record(r.Context(), func(ctx context.Context, store storage.SessionStore) error {
		now := h.now()
		return store.RecordSession(ctx, &storage.SessionRecord{
			SessionID:    sessionID,
			UserID:       owner.UserID,
			ClientID:     owner.ClientID,
			CreatedAt:    now,
			LastActiveAt: now,
		})
	})

	w.Header().Set(HeaderSessionID, sessionID)
	transport.ServeHTTP(w, r)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request, owner Owner, sessionID string) {
	transport, ok := h.registry.Get(sessionID, owner.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, msgSessionNotFound)
		return
	}

	h.record(r.Context(), func(ctx context.Context, store storage.SessionStore) error {
		return store.TouchSession(ctx, sessionID, h.now())
	})

	w.Header().Set(HeaderSessionID, sessionID)
	transport.ServeHTTP(w, r)
}

func (h *Handler) close(w http.ResponseWriter, _ *http.Request, owner Owner, sessionID string) {
	if !h.registry.Close(sessionID, owner.UserID) {
		writeError(w, http.StatusNotFound, msgSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(ctx context.Context, op func(context.Context, storage.SessionStore) error) {
	if h.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := op(ctx, h.recorder); err != nil {
		h.logger.Warn("Failed to record session activity", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
