package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-gateway/internal/testutil"
	"github.com/giantswarm/mcp-gateway/providers"
	"github.com/giantswarm/mcp-gateway/server"
	"github.com/giantswarm/mcp-gateway/storage/memory"
)

func TestSafeReturnTo(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: "/"},
		{raw: "/authorize?client_id=abc", want: "/authorize?client_id=abc"},
		{raw: "/", want: "/"},
		{raw: "//evil.example.com/path", want: "/"},
		{raw: `/\evil.example.com`, want: "/"},
		{raw: "https://evil.example.com/", want: "/"},
		{raw: "javascript:alert(1)", want: "/"},
		{raw: "relative/path", want: "/"},
	}

	for _, tt := range tests {
		if got := safeReturnTo(tt.raw); got != tt.want {
			t.Errorf("safeReturnTo(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLoginURL(t *testing.T) {
	got := loginURL("/authorize?a=b&c=d")
	want := "/login?return_to=%2Fauthorize%3Fa%3Db%26c%3Dd"
	if got != want {
		t.Errorf("loginURL() = %q, want %q", got, want)
	}
}

// startLogin runs GET /login and returns the login cookie and the state
// sent to the provider.
func startLogin(t *testing.T, env *testEnv) (*http.Cookie, string) {
	t.Helper()
	w := env.do(httptest.NewRequest(http.MethodGet, PathLogin, nil))
	require.Equal(t, http.StatusFound, w.Code)

	cookie := findCookie(w, loginCookieName)
	require.NotNil(t, cookie)
	assert.Equal(t, "/login", cookie.Path)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return cookie, location.Query().Get("state")
}

func callbackRequest(query url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, PathLoginCallback+"?"+query.Encode(), nil)
}

func TestLogin_DefaultsReturnToRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t, "/")
	assert.Equal(t, "/", cookie.Path)
}

func TestLoginCallback_Failures(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("missing login cookie", func(t *testing.T) {
		w := env.do(callbackRequest(url.Values{"code": {"mock-code"}, "state": {"s"}}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, findCookie(w, DefaultSessionCookieName))
	})

	t.Run("state mismatch", func(t *testing.T) {
		cookie, _ := startLogin(t, env)
		w := env.do(callbackRequest(url.Values{"code": {"mock-code"}, "state": {"forged"}}), cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid state parameter", decodeError(t, w).ErrorDescription)
		assert.Nil(t, findCookie(w, DefaultSessionCookieName))
	})

	t.Run("provider error", func(t *testing.T) {
		cookie, state := startLogin(t, env)
		w := env.do(callbackRequest(url.Values{"error": {"access_denied"}, "state": {state}}), cookie)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		cookie, state := startLogin(t, env)
		w := env.do(callbackRequest(url.Values{"state": {state}}), cookie)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		cookie, state := startLogin(t, env)
		w := env.do(callbackRequest(url.Values{"code": {"wrong"}, "state": {state}}), cookie)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("login cookie is single use", func(t *testing.T) {
		cookie, state := startLogin(t, env)
		w := env.do(callbackRequest(url.Values{"code": {"mock-code"}, "state": {state}}), cookie)
		require.Equal(t, http.StatusFound, w.Code)

		cleared := findCookie(w, loginCookieName)
		require.NotNil(t, cleared)
		assert.Negative(t, cleared.MaxAge)
	})
}

func TestLoginCallback_UserInfoFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.UserInfoFunc = func(context.Context, *oauth2.Token) (*providers.UserInfo, error) {
		return nil, errors.New("upstream down")
	}

	cookie, state := startLogin(t, env)
	w := env.do(callbackRequest(url.Values{"code": {"mock-code"}, "state": {state}}), cookie)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Nil(t, findCookie(w, DefaultSessionCookieName))
}

func TestLoginCallback_ExpiredLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	clock := testutil.NewMockTime(time.Now())
	env.handler.now = clock.Now

	cookie, state := startLogin(t, env)
	clock.Advance(loginTTL + time.Second)

	w := env.do(callbackRequest(url.Values{"code": {"mock-code"}, "state": {state}}), cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.provider.GetCallCount("ExchangeCode"))
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t, nil)
	clock := testutil.NewMockTime(time.Now())
	env.handler.now = clock.Now

	cookie := env.login(t, "/")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	userID, ok := env.handler.CurrentUser(r)
	require.True(t, ok)
	assert.Equal(t, testUserID, userID)

	t.Run("tampered", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value[:len(cookie.Value)-4] + "AAAA"})
		_, ok := env.handler.CurrentUser(r)
		assert.False(t, ok)
	})

	t.Run("login cookie is not a session", func(t *testing.T) {
		loginCookie, _ := startLogin(t, env)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: cookie.Name, Value: loginCookie.Value})
		_, ok := env.handler.CurrentUser(r)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(DefaultSessionCookieTTL + time.Second)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(cookie)
		_, ok := env.handler.CurrentUser(r)
		assert.False(t, ok)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t, "/")

	w := env.do(httptest.NewRequest(http.MethodPost, PathLogout, nil), cookie)
	assert.Equal(t, http.StatusNoContent, w.Code)

	cleared := findCookie(w, DefaultSessionCookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}

func TestLogin_NoProvider(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	srv, err := server.New(store, store, store, &server.Config{Issuer: testIssuer}, testutil.QuietLogger())
	require.NoError(t, err)

	h, err := NewHandler(srv, http.NotFoundHandler(), store, nil, nil, testutil.QuietLogger())
	require.NoError(t, err)
	t.Cleanup(h.Stop)

	for _, path := range []string{PathLogin, PathLoginCallback} {
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
