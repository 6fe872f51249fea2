package cookie

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Names(t *testing.T) {
	tests := []struct {
		name      string
		useSecure bool
		session   string
		csrf      string
		state     string
	}{
		{name: "secure", useSecure: true, session: "__Secure-authjs.session-token", csrf: "__Host-authjs.csrf-token", state: "__Secure-authjs.state"},
		{name: "insecure", useSecure: false, session: "authjs.session-token", csrf: "authjs.csrf-token", state: "authjs.state"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Act
			c := Defaults(test.useSecure)

			// Assert
			assert.Equal(t, test.session, c.SessionToken.Name)
			assert.Equal(t, test.csrf, c.CSRFToken.Name)
			assert.Equal(t, test.state, c.State.Name)
			assert.Equal(t, test.useSecure, c.SessionToken.Options.Secure)
		})
	}
}

func TestDefaults_CheckCookiesExpireAfterFifteenMinutes(t *testing.T) {
	c := Defaults(true)

	for _, def := range []Definition{c.PKCECodeVerifier, c.State, c.Nonce, c.WebAuthnChallenge} {
		assert.Equal(t, 900, def.Options.MaxAge, def.Name)
	}
	assert.Zero(t, c.SessionToken.Options.MaxAge)
}

func TestCookie_String(t *testing.T) {
	// Arrange
	c := Defaults(true).SessionToken.New("abc")

	// Act
	s := c.String()

	// Assert
	assert.True(t, strings.HasPrefix(s, "__Secure-authjs.session-token=abc"))
	assert.Contains(t, s, "Path=/")
	assert.Contains(t, s, "HttpOnly")
	assert.Contains(t, s, "Secure")
	assert.Contains(t, s, "SameSite=Lax")
}

// Requirement: __Host- cookies never carry a Domain and always use Path=/ and Secure
func TestCookie_HostPrefixRules(t *testing.T) {
	// Arrange
	c := Cookie{
		Name:    "__Host-authjs.csrf-token",
		Value:   "v",
		Options: Options{Domain: "example.com", Path: "/api"},
	}

	// Act
	hc := c.HTTP()

	// Assert
	assert.Empty(t, hc.Domain)
	assert.Equal(t, "/", hc.Path)
	assert.True(t, hc.Secure)
	assert.NotContains(t, c.String(), "Domain=")
}

func TestCookie_SameSiteNoneForcesSecure(t *testing.T) {
	c := Cookie{Name: "authjs.state", Value: "v", Options: Options{SameSite: http.SameSiteNoneMode}}

	assert.True(t, c.HTTP().Secure)
	assert.Contains(t, c.String(), "SameSite=None")
}

func TestDefinition_Clear(t *testing.T) {
	// Act
	c := Defaults(false).State.Clear()

	// Assert
	assert.True(t, c.Cleared())
	assert.Empty(t, c.Value)
	assert.Contains(t, c.String(), "Max-Age=0")
}

func TestParseSetCookie_InvertsString(t *testing.T) {
	tests := []struct {
		name   string
		cookie Cookie
	}{
		{name: "session", cookie: Defaults(true).SessionToken.New("eyJhbGciOiJkaXIifQ..a.b.c")},
		{name: "checks", cookie: Defaults(false).Nonce.New("n")},
		{name: "cleared", cookie: Defaults(false).CallbackURL.Clear()},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Act
			got, err := ParseSetCookie(test.cookie.String())

			// Assert
			require.NoError(t, err)
			assert.Equal(t, test.cookie.Name, got.Name)
			assert.Equal(t, test.cookie.Value, got.Value)
			assert.Equal(t, test.cookie.Options.Path, got.Options.Path)
			assert.Equal(t, test.cookie.Options.HTTPOnly, got.Options.HTTPOnly)
			assert.Equal(t, test.cookie.Options.Secure, got.Options.Secure)
			assert.Equal(t, test.cookie.Options.SameSite, got.Options.SameSite)
			assert.Equal(t, test.cookie.Cleared(), got.Cleared())
		})
	}
}

func TestParse(t *testing.T) {
	got := Parse("a=1; authjs.session-token=tok; a=2")

	assert.Equal(t, map[string]string{"a": "1", "authjs.session-token": "tok"}, got)
	assert.Empty(t, Parse(""))
}
