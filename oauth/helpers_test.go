package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

func testOptions(t *testing.T, p *core.OAuthProvider) *core.Options {
	t.Helper()
	cfg := &core.Config{
		Secret:    []string{"secret"},
		TrustHost: true,
		Providers: []core.Provider{p},
	}
	cfg.ApplyDefaults()

	u, err := url.Parse("http://localhost:3000/api/auth")
	require.NoError(t, err)
	return &core.Options{
		Config:   cfg,
		Provider: p,
		URL:      u,
		Cookies:  cookie.Defaults(false),
	}
}

// cookieJar applies Set-Cookie semantics to a request cookie map.
func cookieJar(jar map[string]string, cookies []cookie.Cookie) map[string]string {
	if jar == nil {
		jar = map[string]string{}
	}
	for _, c := range cookies {
		if c.Cleared() {
			delete(jar, c.Name)
			continue
		}
		jar[c.Name] = c.Value
	}
	return jar
}

func cookieNames(cookies []cookie.Cookie) []string {
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names
}
