// Package cookie defines the named cookies the engine issues and serialises
// them with their security attributes.
package cookie

import (
	"net/http"
	"strings"
	"time"
)

const (
	SecurePrefix = "__Secure-"
	HostPrefix   = "__Host-"

	// ChecksMaxAge bounds the lifetime of state, nonce, PKCE and challenge cookies.
	ChecksMaxAge = 15 * time.Minute
)

// Options are the Set-Cookie attributes.
type Options struct {
	Path     string
	Domain   string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
	// MaxAge in seconds. Zero omits the attribute, negative expires the cookie.
	MaxAge  int
	Expires time.Time
}

// Definition is a cookie name plus its default attributes.
type Definition struct {
	Name    string
	Options Options
}

// Cookie is a cookie to be emitted on a response.
type Cookie struct {
	Name    string
	Value   string
	Options Options
}

// Cookies are the definitions of every cookie the engine may emit.
type Cookies struct {
	SessionToken      Definition
	CallbackURL       Definition
	CSRFToken         Definition
	PKCECodeVerifier  Definition
	State             Definition
	Nonce             Definition
	WebAuthnChallenge Definition
}

// Defaults derives every cookie definition from the single useSecure flag.
func Defaults(useSecure bool) Cookies {
	prefix := ""
	hostPrefix := ""
	if useSecure {
		prefix = SecurePrefix
		hostPrefix = HostPrefix
	}

	base := Options{
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		Secure:   useSecure,
	}
	checks := base
	checks.MaxAge = int(ChecksMaxAge.Seconds())

	return Cookies{
		SessionToken:      Definition{Name: prefix + "authjs.session-token", Options: base},
		CallbackURL:       Definition{Name: prefix + "authjs.callback-url", Options: base},
		CSRFToken:         Definition{Name: hostPrefix + "authjs.csrf-token", Options: base},
		PKCECodeVerifier:  Definition{Name: prefix + "authjs.pkce.code_verifier", Options: checks},
		State:             Definition{Name: prefix + "authjs.state", Options: checks},
		Nonce:             Definition{Name: prefix + "authjs.nonce", Options: checks},
		WebAuthnChallenge: Definition{Name: prefix + "authjs.challenge", Options: checks},
	}
}

// New returns a cookie carrying value with the definition's attributes.
func (d Definition) New(value string) Cookie {
	return Cookie{Name: d.Name, Value: value, Options: d.Options}
}

// Clear returns a cookie that makes the browser drop d.
func (d Definition) Clear() Cookie {
	opts := d.Options
	opts.MaxAge = -1
	opts.Expires = time.Time{}
	return Cookie{Name: d.Name, Options: opts}
}

// Cleared reports whether the cookie instructs the browser to delete it.
func (c Cookie) Cleared() bool {
	return c.Options.MaxAge < 0
}

// HTTP converts the cookie to its net/http form, enforcing the prefix rules.
func (c Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Options.Path,
		Domain:   c.Options.Domain,
		HttpOnly: c.Options.HTTPOnly,
		Secure:   c.Options.Secure,
		SameSite: c.Options.SameSite,
		MaxAge:   c.Options.MaxAge,
		Expires:  c.Options.Expires,
	}

	switch {
	case strings.HasPrefix(c.Name, HostPrefix):
		hc.Domain = ""
		hc.Path = "/"
		hc.Secure = true
	case strings.HasPrefix(c.Name, SecurePrefix):
		hc.Secure = true
	}
	if hc.SameSite == http.SameSiteNoneMode {
		hc.Secure = true
	}
	return hc
}

// String serialises the cookie as a Set-Cookie header value.
func (c Cookie) String() string {
	return c.HTTP().String()
}

// Parse reads a request Cookie header into a name to value map. When a name
// repeats the first value wins.
func Parse(header string) map[string]string {
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	out := make(map[string]string)
	for _, c := range req.Cookies() {
		if _, ok := out[c.Name]; !ok {
			out[c.Name] = c.Value
		}
	}
	return out
}

// ParseSetCookie inverts Cookie.String.
func ParseSetCookie(line string) (Cookie, error) {
	hc, err := http.ParseSetCookie(line)
	if err != nil {
		return Cookie{}, err
	}
	return Cookie{
		Name:  hc.Name,
		Value: hc.Value,
		Options: Options{
			Path:     hc.Path,
			Domain:   hc.Domain,
			HTTPOnly: hc.HttpOnly,
			Secure:   hc.Secure,
			SameSite: hc.SameSite,
			MaxAge:   hc.MaxAge,
			Expires:  hc.Expires,
		},
	}, nil
}
