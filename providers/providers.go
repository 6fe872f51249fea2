// Package providers is a registry of identity provider definitions. Each
// definition is plain data plus a profile mapping; New turns one into a
// configured core.OAuthProvider.
package providers

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/lborres/gatehouse/core"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrIssuerRequired  = errors.New("provider requires an issuer")
	ErrMissingClientID = errors.New("provider requires a client id")
)

// Definition describes a provider. Endpoint URLs may contain {base}, which
// is replaced with Options.BaseURL or the definition's BaseURL.
type Definition struct {
	ID   string
	Name string
	Type core.ProviderType

	Issuer         string
	RequiresIssuer bool
	BaseURL        string

	Authorization string
	Token         string
	Userinfo      string
	// UserinfoRequest replaces the bearer GET against Userinfo.
	UserinfoRequest func(base string) core.UserinfoRequestFunc

	Scope            string
	Params           map[string]string
	Checks           []core.Check
	ClientAuthMethod string

	Profile core.ProfileFunc
	Conform core.ConformFunc
}

// Options are the deployment-specific parts of a provider.
type Options struct {
	ClientID     string
	ClientSecret string
	// Issuer overrides the definition's issuer. Required for self-hosted
	// OIDC servers such as Keycloak.
	Issuer string
	// BaseURL points GitHub Enterprise or self-managed GitLab at their host.
	BaseURL string
	Scope   string
	Params  map[string]string
	Checks  []core.Check

	Profile                           core.ProfileFunc
	AllowDangerousEmailAccountLinking bool
	RedirectProxyURL                  string
}

var registry = map[string]Definition{}

func register(defs ...Definition) {
	for _, d := range defs {
		if _, dup := registry[d.ID]; dup {
			panic("providers: duplicate definition " + d.ID)
		}
		registry[d.ID] = d
	}
}

// Lookup returns the definition registered under id.
func Lookup(id string) (Definition, bool) {
	d, ok := registry[id]
	return d, ok
}

// IDs lists the registered provider ids in order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New builds the provider registered under id.
func New(id string, opts Options) (*core.OAuthProvider, error) {
	d, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return d.Build(opts)
}

// Build configures the definition for one deployment.
func (d Definition) Build(opts Options) (*core.OAuthProvider, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingClientID, d.ID)
	}
	issuer := cmp.Or(opts.Issuer, d.Issuer)
	if d.RequiresIssuer && issuer == "" {
		return nil, fmt.Errorf("%w: %s", ErrIssuerRequired, d.ID)
	}

	base := strings.TrimSuffix(cmp.Or(opts.BaseURL, d.BaseURL), "/")
	expand := func(s string) string { return strings.ReplaceAll(s, "{base}", base) }

	p := &core.OAuthProvider{
		ID:                                d.ID,
		Name:                              d.Name,
		Type:                              d.Type,
		ClientID:                          opts.ClientID,
		ClientSecret:                      opts.ClientSecret,
		ClientAuthMethod:                  d.ClientAuthMethod,
		Issuer:                            issuer,
		Authorization:                     core.Endpoint{URL: expand(d.Authorization)},
		Token:                             core.TokenEndpoint{Endpoint: core.Endpoint{URL: expand(d.Token)}},
		Userinfo:                          core.UserinfoEndpoint{Endpoint: core.Endpoint{URL: expand(d.Userinfo)}},
		Profile:                           d.Profile,
		Conform:                           d.Conform,
		AllowDangerousEmailAccountLinking: opts.AllowDangerousEmailAccountLinking,
		RedirectProxyURL:                  opts.RedirectProxyURL,
	}
	if opts.Profile != nil {
		p.Profile = opts.Profile
	}
	if d.UserinfoRequest != nil {
		p.Userinfo.Request = d.UserinfoRequest(base)
	}

	params := maps.Clone(d.Params)
	if params == nil {
		params = map[string]string{}
	}
	if scope := cmp.Or(opts.Scope, d.Scope); scope != "" {
		params["scope"] = scope
	}
	maps.Copy(params, opts.Params)
	if len(params) > 0 {
		p.Authorization.Params = params
	}

	switch {
	case opts.Checks != nil:
		p.Checks = slices.Clone(opts.Checks)
	case d.Checks != nil:
		p.Checks = slices.Clone(d.Checks)
	}
	return p, nil
}
