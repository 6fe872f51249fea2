// Package env reads AUTH_* deployment settings from the environment.
package env

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// MaxRotatedSecrets is how many AUTH_SECRET_<n> variables are read.
const MaxRotatedSecrets = 3

type Env struct {
	v *viper.Viper
}

// Provider holds AUTH_<ID>_ID, AUTH_<ID>_SECRET and AUTH_<ID>_ISSUER.
type Provider struct {
	ClientID     string
	ClientSecret string
	Issuer       string
}

// New reads from the process environment.
func New() *Env {
	v := viper.New()
	v.AutomaticEnv()
	return &Env{v: v}
}

// FromViper reads from v, which may carry values from any viper source.
func FromViper(v *viper.Viper) *Env {
	return &Env{v: v}
}

func (e *Env) get(key string) string {
	return strings.TrimSpace(e.v.GetString(key))
}

// Secrets returns AUTH_SECRET followed by AUTH_SECRET_1..3, skipping
// unset ones.
func (e *Env) Secrets() []string {
	var out []string
	if s := e.get("AUTH_SECRET"); s != "" {
		out = append(out, s)
	}
	for i := 1; i <= MaxRotatedSecrets; i++ {
		if s := e.get("AUTH_SECRET_" + strconv.Itoa(i)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *Env) URL() string { return e.get("AUTH_URL") }

// BasePath is the path of AUTH_URL, or "" when it has none.
func (e *Env) BasePath() string {
	u, err := url.Parse(e.URL())
	if err != nil || u.Path == "/" {
		return ""
	}
	return u.Path
}

// TrustHost is true when AUTH_TRUST_HOST is truthy or AUTH_URL is set.
func (e *Env) TrustHost() bool {
	return e.v.GetBool("AUTH_TRUST_HOST") || e.URL() != ""
}

func (e *Env) RedirectProxyURL() string { return e.get("AUTH_REDIRECT_PROXY_URL") }

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

// ProviderPrefix maps a provider id to its variable prefix:
// "azure-ad" becomes AUTH_AZURE_AD.
func ProviderPrefix(id string) string {
	return "AUTH_" + nonAlnum.ReplaceAllString(strings.ToUpper(id), "_")
}

func (e *Env) Provider(id string) Provider {
	prefix := ProviderPrefix(id)
	return Provider{
		ClientID:     e.get(prefix + "_ID"),
		ClientSecret: e.get(prefix + "_SECRET"),
		Issuer:       e.get(prefix + "_ISSUER"),
	}
}
