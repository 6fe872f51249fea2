package core

import (
	"net/url"

	"github.com/lborres/gatehouse/pkg/cookie"
)

// Options is the configuration resolved for one request.
type Options struct {
	*Config

	Action Action
	// Provider is nil for actions that take none.
	Provider Provider
	// URL is the deployment origin joined with the base path.
	URL *url.URL

	Cookies           cookie.Cookies
	CallbackURL       string
	CSRFToken         string
	CSRFTokenVerified bool
	IsOnRedirectProxy bool
}

// Origin is the deployment origin without the base path.
func (o *Options) Origin() string {
	return o.URL.Scheme + "://" + o.URL.Host
}

// BaseURL is origin plus base path.
func (o *Options) BaseURL() string {
	return o.Origin() + o.URL.Path
}

func (o *Options) SignInURL(providerID string) string {
	return o.BaseURL() + "/signin/" + providerID
}

func (o *Options) CallbackURLFor(providerID string) string {
	return o.BaseURL() + "/callback/" + providerID
}

// PageURL returns the configured page or the built-in action URL.
func (o *Options) PageURL(custom string, action Action) string {
	if custom != "" {
		return custom
	}
	return o.BaseURL() + "/" + string(action)
}

// RedirectProxyURLFor returns the redirect proxy used by p, if any.
func (o *Options) RedirectProxyURLFor(p *OAuthProvider) string {
	if p.RedirectProxyURL != "" {
		return p.RedirectProxyURL
	}
	return o.RedirectProxyURL
}
