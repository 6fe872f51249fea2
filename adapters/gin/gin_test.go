package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeHandler struct {
	requests []*core.Request
	respond  func(req *core.Request) *core.Response
}

func (f *fakeHandler) Handle(_ context.Context, req *core.Request) *core.Response {
	f.requests = append(f.requests, req)
	if f.respond != nil {
		return f.respond(req)
	}
	res := core.NewResponse()
	_ = res.JSON(http.StatusOK, map[string]string{"path": req.URL.Path})
	return res
}

func newEngine(t *testing.T, h core.Handler) (*gin.Engine, *Adapter) {
	t.Helper()
	engine := gin.New()
	adapter := New(engine)
	require.NoError(t, adapter.RegisterRoutes(h, "/api/auth"))
	return engine, adapter
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRegisterRoutes_ForwardsRequests(t *testing.T) {
	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/auth/providers"},
		{http.MethodPost, "/api/auth/session"},
		{http.MethodPost, "/api/auth/signin/github"},
		{http.MethodGet, "/api/auth/callback/github?code=abc&state=xyz"},
		{http.MethodGet, "/api/auth/webauthn-options/passkey"},
	}

	for _, test := range tests {
		t.Run(test.method+" "+test.target, func(t *testing.T) {
			// Arrange
			h := &fakeHandler{}
			engine, _ := newEngine(t, h)

			// Act
			rec := serve(engine, httptest.NewRequest(test.method, "http://example.com"+test.target, nil))

			// Assert
			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, h.requests, 1)
			assert.Equal(t, test.method, h.requests[0].Method)
			assert.Equal(t, test.target, h.requests[0].URL.RequestURI())
		})
	}
}

func TestHandle_FormBodyAndRedirect(t *testing.T) {
	// Arrange
	defs := cookie.Defaults(false)
	h := &fakeHandler{respond: func(*core.Request) *core.Response {
		res := core.NewResponse()
		res.Redirect = "https://github.com/login/oauth/authorize"
		res.Cookies = []cookie.Cookie{defs.State.New("s")}
		return res
	}}
	engine, _ := newEngine(t, h)
	req := httptest.NewRequest(http.MethodPost, "http://example.com/api/auth/signin/github", strings.NewReader("csrfToken=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Proto", "https")

	// Act
	rec := serve(engine, req)

	// Assert
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://github.com/login/oauth/authorize", rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "authjs.state=s")
	require.Len(t, h.requests, 1)
	assert.Equal(t, "abc", h.requests[0].Body["csrfToken"])
	assert.Equal(t, "https://example.com", h.requests[0].Origin())
}

func TestRequireSession(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "signed in", status: http.StatusOK, body: `{"user":{"name":"Ada"}}`, wantStatus: http.StatusOK},
		{name: "signed out", status: http.StatusOK, body: "null", wantStatus: http.StatusUnauthorized},
		{name: "lookup failure", status: http.StatusInternalServerError, body: `{}`, wantStatus: http.StatusInternalServerError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			h := &fakeHandler{respond: func(*core.Request) *core.Response {
				res := core.NewResponse()
				res.Status = test.status
				res.Body = []byte(test.body)
				return res
			}}
			engine, adapter := newEngine(t, h)
			var name any
			engine.GET("/dashboard", adapter.RequireSession(), func(c *gin.Context) {
				session := c.MustGet(SessionKey).(map[string]any)
				name = session["user"].(map[string]any)["name"]
				c.Status(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "http://example.com/dashboard", nil)
			req.Header.Set("Cookie", "authjs.session-token=tok")

			// Act
			rec := serve(engine, req)

			// Assert
			assert.Equal(t, test.wantStatus, rec.Code)
			require.Len(t, h.requests, 1)
			assert.Equal(t, "/api/auth/session", h.requests[0].URL.Path)
			assert.Equal(t, "tok", h.requests[0].Cookies["authjs.session-token"])
			if test.wantStatus == http.StatusOK {
				assert.Equal(t, "Ada", name)
			}
		})
	}
}

func TestRequireSession_BeforeRegisterRoutes(t *testing.T) {
	engine := gin.New()
	adapter := New(engine)
	engine.GET("/dashboard", adapter.RequireSession(), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
