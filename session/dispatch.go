package session

import (
	"errors"
	"net/http"
	"strings"
)

// HeaderSessionID carries the session id on every request after the first.
const HeaderSessionID = "Mcp-Session-Id"

var (
	// ErrMissingSessionID is returned for GET or DELETE without a session id
	ErrMissingSessionID = errors.New("missing " + HeaderSessionID + " header")

	// ErrMethodNotAllowed is returned for methods other than GET, POST and DELETE
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// Request is the decoded intent of an /mcp request.
type Request interface {
	isRequest()
}

// CreateSession opens a new session. It is a POST without a session id.
type CreateSession struct{}

// ResumeSession addresses an existing session with GET or POST.
type ResumeSession struct {
	ID string
}

// CloseSession ends a session. It is a DELETE with a session id.
type CloseSession struct {
	ID string
}

func (CreateSession) isRequest() {}
func (ResumeSession) isRequest() {}
func (CloseSession) isRequest()  {}

// DecodeRequest classifies r by method and session header.
func DecodeRequest(r *http.Request) (Request, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderSessionID))

	switch r.Method {
	case http.MethodPost:
		if id == "" {
			return CreateSession{}, nil
		}
		return ResumeSession{ID: id}, nil
	case http.MethodGet:
		if id == "" {
			return nil, ErrMissingSessionID
		}
		return ResumeSession{ID: id}, nil
	case http.MethodDelete:
		if id == "" {
			return nil, ErrMissingSessionID
		}
		return CloseSession{ID: id}, nil
	default:
		return nil, ErrMethodNotAllowed
	}
}
