package security

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty ctx) = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-1")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		existingHeader string
		expectNew      bool
	}{
		{name: "generates id when absent", existingHeader: "", expectNew: true},
		{name: "keeps valid upstream id", existingHeader: "upstream-request-id-xyz", expectNew: false},
		{name: "rejects header injection", existingHeader: "id\r\nX-Injected: evil", expectNew: true},
		{name: "rejects spaces", existingHeader: "id with spaces", expectNew: true},
		{name: "rejects overlong id", existingHeader: strings.Repeat("a", 129), expectNew: true},
		{name: "rejects markup", existingHeader: "<script>alert(1)</script>", expectNew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.existingHeader != "" {
				req.Header.Set(RequestIDHeader, tt.existingHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get(RequestIDHeader); got != captured {
				t.Errorf("response header = %q, context id = %q", got, captured)
			}

			if tt.expectNew {
				if _, err := uuid.Parse(captured); err != nil {
					t.Errorf("generated id %q is not a UUID: %v", captured, err)
				}
				return
			}
			if captured != tt.existingHeader {
				t.Errorf("request id = %q, want %q", captured, tt.existingHeader)
			}
		})
	}
}

func TestLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerWithRequestID(WithRequestID(context.Background(), "req-42"), base).Info("hello")

	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("log output missing request id: %s", buf.String())
	}
}
