package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		id      string
		want    Request
		wantErr error
	}{
		{name: "post without id creates", method: http.MethodPost, want: CreateSession{}},
		{name: "post with id resumes", method: http.MethodPost, id: "s1", want: ResumeSession{ID: "s1"}},
		{name: "get with id resumes", method: http.MethodGet, id: "s1", want: ResumeSession{ID: "s1"}},
		{name: "delete with id closes", method: http.MethodDelete, id: "s1", want: CloseSession{ID: "s1"}},
		{name: "blank id is missing", method: http.MethodPost, id: "   ", want: CreateSession{}},
		{name: "get without id", method: http.MethodGet, wantErr: ErrMissingSessionID},
		{name: "delete without id", method: http.MethodDelete, wantErr: ErrMissingSessionID},
		{name: "put", method: http.MethodPut, id: "s1", wantErr: ErrMethodNotAllowed},
		{name: "patch", method: http.MethodPatch, wantErr: ErrMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/mcp", nil)
			if tt.id != "" {
				r.Header.Set(HeaderSessionID, tt.id)
			}

			got, err := DecodeRequest(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("DecodeRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRequest() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeRequest() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
