package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/pkg/cookie"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		action     Action
		providerID string
		wantErr    bool
	}{
		{name: "session", path: "/api/auth/session", action: ActionSession},
		{name: "signin with provider", path: "/api/auth/signin/github", action: ActionSignIn, providerID: "github"},
		{name: "callback trailing slash", path: "/api/auth/callback/github/", action: ActionCallback, providerID: "github"},
		{name: "webauthn options", path: "/api/auth/webauthn-options/passkey", action: ActionWebAuthnOptions, providerID: "passkey"},
		{name: "unknown action", path: "/api/auth/unknown", wantErr: true},
		{name: "provider on session", path: "/api/auth/session/github", wantErr: true},
		{name: "outside base path", path: "/other/session", wantErr: true},
		{name: "too deep", path: "/api/auth/callback/github/extra", wantErr: true},
		{name: "base path only", path: "/api/auth", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			action, providerID, err := ParseAction(test.path, "/api/auth")

			if test.wantErr {
				assert.ErrorIs(t, err, ErrUnknownAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.action, action)
			assert.Equal(t, test.providerID, providerID)
		})
	}
}

func TestFromHTTP(t *testing.T) {
	// Arrange
	r := httptest.NewRequest(http.MethodPost, "http://internal/api/auth/signin/credentials?x=1",
		strings.NewReader("username=foo&password=bar"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "app.example.com")
	r.Header.Set("Cookie", "authjs.csrf-token=abc")

	// Act
	req, err := FromHTTP(r)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", req.Origin())
	assert.Equal(t, "/api/auth/signin/credentials", req.URL.Path)
	assert.Equal(t, "foo", req.Body["username"])
	assert.Equal(t, "1", req.Param("x"))
	assert.Equal(t, "abc", req.Cookies["authjs.csrf-token"])
	assert.True(t, req.IsPost())
}

func TestParseBody_JSON(t *testing.T) {
	body, err := ParseBody("application/json; charset=utf-8", []byte(`{"csrfToken":"t","data":{"name":"n"}}`))

	require.NoError(t, err)
	assert.Equal(t, "t", body["csrfToken"])
	assert.JSONEq(t, `{"name":"n"}`, body["data"])
}

// Requirement: multiple cookies are sent as separate Set-Cookie headers
func TestResponse_Write(t *testing.T) {
	// Arrange
	defs := cookie.Defaults(false)
	res := NewResponse()
	res.Redirect = "http://localhost/done"
	res.Cookies = []cookie.Cookie{defs.SessionToken.New("a"), defs.State.Clear()}
	rec := httptest.NewRecorder()

	// Act
	res.Write(rec)

	// Assert
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://localhost/done", rec.Header().Get("Location"))
	assert.Len(t, rec.Header().Values("Set-Cookie"), 2)
}

type handlerFunc func(ctx context.Context, req *Request) *Response

func (f handlerFunc) Handle(ctx context.Context, req *Request) *Response { return f(ctx, req) }

func TestGetSession(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantSession map[string]any
		wantErr     bool
	}{
		{name: "signed in", status: http.StatusOK, body: `{"user":{"name":"Ada"}}`, wantSession: map[string]any{"user": map[string]any{"name": "Ada"}}},
		{name: "signed out", status: http.StatusOK, body: "null"},
		{name: "failure", status: http.StatusInternalServerError, body: `{"message":"x"}`, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			var seen *Request
			h := handlerFunc(func(_ context.Context, req *Request) *Response {
				seen = req
				res := NewResponse()
				res.Status = test.status
				res.Body = []byte(test.body)
				return res
			})
			u, err := url.Parse("https://app.example.com/dashboard?tab=1")
			require.NoError(t, err)
			req := &Request{Method: http.MethodPost, URL: u, Headers: http.Header{}, Cookies: map[string]string{"authjs.session-token": "tok"}}

			// Act
			session, res, err := GetSession(context.Background(), h, "/api/auth/", req)

			// Assert
			require.NotNil(t, res)
			assert.Equal(t, http.MethodGet, seen.Method)
			assert.Equal(t, "https://app.example.com/api/auth/session", seen.URL.String())
			assert.Equal(t, "tok", seen.Cookies["authjs.session-token"])
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantSession, session)
		})
	}
}
