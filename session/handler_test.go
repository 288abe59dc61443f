package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gateway/internal/testutil"
	"github.com/giantswarm/mcp-gateway/storage/memory"
)

func newTestHandler(t *testing.T, config Config) (*Handler, *Registry, *memory.Store) {
	t.Helper()
	reg, _, _ := newTestRegistry(t, config)
	store := memory.New()
	t.Cleanup(store.Stop)

	h := NewHandler(reg, testutil.QuietLogger())
	h.SetRecorder(store)
	return h, reg, store
}

func serve(h http.Handler, method, sessionID, userID string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "/mcp", nil)
	if sessionID != "" {
		r.Header.Set(HeaderSessionID, sessionID)
	}
	if userID != "" {
		r = r.WithContext(WithOwner(r.Context(), Owner{UserID: userID, ClientID: "client-1"}))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body["error"]
}

func TestHandler_CreateResumeClose(t *testing.T) {
	h, reg, store := newTestHandler(t, Config{})

	w := serve(h, http.MethodPost, "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(HeaderSessionID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String(), "create is served by the new transport")

	rec, ok := store.GetSession(id)
	require.True(t, ok, "session is recorded")
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, "client-1", rec.ClientID)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w = serve(h, method, id, "alice")
		assert.Equal(t, http.StatusOK, w.Code, method)
		assert.Equal(t, id, w.Body.String(), method)
	}

	w = serve(h, http.MethodDelete, id, "alice")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, reg.Len())

	_, ok = store.GetSession(id)
	assert.False(t, ok, "record is deleted with the session")

	w = serve(h, http.MethodGet, id, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_ForeignSessionIsNotFound(t *testing.T) {
	h, reg, _ := newTestHandler(t, Config{})

	w := serve(h, http.MethodPost, "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(HeaderSessionID)

	missing := serve(h, http.MethodGet, "no-such-session", "mallory")
	require.Equal(t, http.StatusNotFound, missing.Code)
	missingBody := errorBody(t, missing)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			w := serve(h, method, id, "mallory")
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, missingBody, errorBody(t, w), "foreign and missing sessions must be indistinguishable")
			assert.Empty(t, w.Header().Get(HeaderSessionID))
		})
	}

	assert.Equal(t, 1, reg.Len(), "foreign requests never affect the session")
	w = serve(h, http.MethodGet, id, "alice")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_CapacityExceeded(t *testing.T) {
	h, reg, _ := newTestHandler(t, Config{MaxSessions: 2})

	for i := 0; i < 2; i++ {
		w := serve(h, http.MethodPost, "", "alice")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(h, http.MethodPost, "", "bob")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Too many active sessions", errorBody(t, w))
	assert.Equal(t, 2, reg.Len())
}

func TestHandler_BadRequests(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{})

	tests := []struct {
		name       string
		method     string
		sessionID  string
		userID     string
		wantStatus int
	}{
		{name: "unauthenticated", method: http.MethodPost, wantStatus: http.StatusUnauthorized},
		{name: "get without session", method: http.MethodGet, userID: "alice", wantStatus: http.StatusBadRequest},
		{name: "delete without session", method: http.MethodDelete, userID: "alice", wantStatus: http.StatusBadRequest},
		{name: "unsupported method", method: http.MethodPut, sessionID: "s1", userID: "alice", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, tt.method, tt.sessionID, tt.userID)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandler_IdleEvictionDeletesRecord(t *testing.T) {
	reg, _, clock := newTestRegistry(t, Config{IdleTimeout: DefaultIdleTimeout})
	store := memory.New()
	t.Cleanup(store.Stop)
	h := NewHandler(reg, testutil.QuietLogger())
	h.SetRecorder(store)

	w := serve(h, http.MethodPost, "", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(HeaderSessionID)

	clock.Advance(DefaultIdleTimeout + 1)
	require.Equal(t, 1, reg.Sweep())

	_, ok := store.GetSession(id)
	assert.False(t, ok)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, id, "alice").Code)
}

func TestOwnerFromContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	if _, ok := OwnerFromContext(r.Context()); ok {
		t.Error("OwnerFromContext() on bare context = true, want false")
	}

	ctx := WithOwner(r.Context(), Owner{})
	if _, ok := OwnerFromContext(ctx); ok {
		t.Error("OwnerFromContext() with empty user = true, want false")
	}

	ctx = WithOwner(r.Context(), Owner{UserID: "u", ClientID: "c"})
	got, ok := OwnerFromContext(ctx)
	if !ok || got.UserID != "u" || got.ClientID != "c" {
		t.Errorf("OwnerFromContext() = %+v, %v", got, ok)
	}
}
