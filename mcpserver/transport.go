package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/session"
)

const (
	// maxMessageBytes bounds a POSTed JSON-RPC message or batch
	maxMessageBytes = 4 << 20

	// notificationBuffer is the per-session queue of server notifications
	notificationBuffer = 100

	// keepAliveInterval is the SSE comment interval on idle streams
	keepAliveInterval = 30 * time.Second
)

// Transport carries one protocol session over plain HTTP: POST for
// JSON-RPC requests and GET for the server-to-client SSE stream.
type Transport struct {
	id     string
	userID string
	mcp    *server.MCPServer
	logger *slog.Logger

	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	onClose   func(sessionID string)
}

var (
	_ server.ClientSession = (*Transport)(nil)
	_ session.Transport    = (*Transport)(nil)
)

func newTransport(srv *server.MCPServer, sessionID, userID string, onClose func(string), logger *slog.Logger) *Transport {
	return &Transport{
		id:            sessionID,
		userID:        userID,
		mcp:           srv,
		logger:        logger.With("session_id", sessionID),
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		done:          make(chan struct{}),
		onClose:       onClose,
	}
}

// SessionID implements server.ClientSession
func (t *Transport) SessionID() string {
	return t.id
}

// NotificationChannel implements server.ClientSession
func (t *Transport) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return t.notifications
}

// Initialize implements server.ClientSession
func (t *Transport) Initialize() {
	t.initialized.Store(true)
}

// Initialized implements server.ClientSession
func (t *Transport) Initialized() bool {
	return t.initialized.Load()
}

// Done is closed once the transport is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Close unregisters the session from the protocol server, ends open
// streams and fails in-flight requests. Only the first call has an effect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mcp.UnregisterSession(context.Background(), t.id)
		if t.onClose != nil {
			t.onClose(t.id)
		}
		t.logger.Debug("Session transport closed")
	})
	return nil
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// ServeHTTP implements http.Handler
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.closed() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrTransportClosed.Error()})
		return
	}

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleStream(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}

// requestContext derives a context that carries the session and its owner
// and is cancelled when the transport closes.
func (t *Transport) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(WithUserID(parent, t.userID))
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return t.mcp.WithContext(ctx, t), cancel
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
		return
	}

	ctx, cancel := t.requestContext(r.Context())
	defer cancel()

	var (
		batch     []json.RawMessage
		responses []mcp.JSONRPCMessage
		isBatch   bool
	)
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &batch); err == nil {
			isBatch = true
		}
	}

	if isBatch {
		if len(batch) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Empty JSON-RPC batch"})
			return
		}
		for _, message := range batch {
			if resp := t.mcp.HandleMessage(ctx, message); resp != nil {
				responses = append(responses, resp)
			}
		}
	} else if resp := t.mcp.HandleMessage(ctx, body); resp != nil {
		responses = append(responses, resp)
	}

	if t.closed() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrTransportClosed.Error()})
		return
	}

	switch {
	case len(responses) == 0:
		w.WriteHeader(http.StatusAccepted)
	case isBatch:
		writeJSON(w, http.StatusOK, responses)
	default:
		writeJSON(w, http.StatusOK, responses[0])
	}
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case notification := <-t.notifications:
			data, err := json.Marshal(notification)
			if err != nil {
				t.logger.Warn("Failed to encode notification", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
