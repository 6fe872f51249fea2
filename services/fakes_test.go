package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/adapters/memory"
	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

const testBaseURL = "http://localhost:3000/api/auth"

const sessionCookieName = "authjs.session-token"

// fakeAdapter wraps the memory adapter with error injection.
type fakeAdapter struct {
	*memory.Adapter

	mu            sync.Mutex
	getSessionErr error
	linkErr       error
	deletedUsers  []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{Adapter: memory.New()}
}

func (f *fakeAdapter) GetSessionAndUser(ctx context.Context, token string) (*core.SessionAndUser, error) {
	if f.getSessionErr != nil {
		return nil, f.getSessionErr
	}
	return f.Adapter.GetSessionAndUser(ctx, token)
}

func (f *fakeAdapter) LinkAccount(ctx context.Context, a *core.Account) (*core.Account, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return f.Adapter.LinkAccount(ctx, a)
}

func (f *fakeAdapter) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deletedUsers = append(f.deletedUsers, id)
	f.mu.Unlock()
	return f.Adapter.DeleteUser(ctx, id)
}

func newTestHandler(t *testing.T, cfg core.Config) *Handler {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = []string{"test-secret"}
	}
	cfg.TrustHost = true
	cfg.ApplyDefaults()
	return NewHandler(&cfg)
}

// testOptions resolves options the way initOptions does for a request on
// the test origin.
func testOptions(t *testing.T, h *Handler, p core.Provider) *core.Options {
	t.Helper()
	u, err := url.Parse(testBaseURL)
	require.NoError(t, err)
	return &core.Options{
		Config:      h.cfg,
		Provider:    p,
		URL:         u,
		Cookies:     cookie.Defaults(false),
		CallbackURL: "http://localhost:3000",
	}
}

// client drives a Handler like a browser: it keeps cookies between calls.
type client struct {
	t       *testing.T
	h       *Handler
	jar     map[string]string
	headers http.Header
}

func newClient(t *testing.T, h *Handler) *client {
	return &client{t: t, h: h, jar: map[string]string{}, headers: http.Header{}}
}

func (c *client) do(method, target string, body map[string]string) *core.Response {
	c.t.Helper()
	if !strings.HasPrefix(target, "http") {
		target = testBaseURL + target
	}
	u, err := url.Parse(target)
	require.NoError(c.t, err)

	cookies := make(map[string]string, len(c.jar))
	for k, v := range c.jar {
		cookies[k] = v
	}
	if body == nil {
		body = map[string]string{}
	}
	res := c.h.Handle(context.Background(), &core.Request{
		Method:  method,
		URL:     u,
		Headers: c.headers.Clone(),
		Cookies: cookies,
		Body:    body,
	})
	for _, ck := range res.Cookies {
		if ck.Cleared() {
			delete(c.jar, ck.Name)
			continue
		}
		c.jar[ck.Name] = ck.Value
	}
	return res
}

func (c *client) get(target string) *core.Response {
	c.t.Helper()
	return c.do(http.MethodGet, target, nil)
}

func (c *client) csrfToken() string {
	c.t.Helper()
	res := c.get("/csrf")
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(c.t, json.Unmarshal(res.Body, &body))
	require.NotEmpty(c.t, body.CSRFToken)
	return body.CSRFToken
}

// post sends a form with a valid CSRF token.
func (c *client) post(target string, body map[string]string) *core.Response {
	c.t.Helper()
	if body == nil {
		body = map[string]string{}
	}
	body["csrfToken"] = c.csrfToken()
	return c.do(http.MethodPost, target, body)
}

func decodeJSON(t *testing.T, res *core.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &out))
	return out
}

func hasCookie(res *core.Response, name string) bool {
	for _, c := range res.Cookies {
		if c.Name == name && !c.Cleared() {
			return true
		}
	}
	return false
}
