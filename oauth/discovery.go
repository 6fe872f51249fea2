// Package oauth implements the authorization code flow: discovery, the
// state, nonce and PKCE checks, the authorization URL and the callback.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/lborres/gatehouse/core"
)

const maxResponseSize = 1 << 20

// Metadata is the subset of the discovery document the flow uses.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	IDTokenSigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
}

func (m *Metadata) SupportsS256() bool {
	return slices.Contains(m.CodeChallengeMethodsSupported, "S256")
}

// Server is a provider's authorization server as resolved for one request.
type Server struct {
	Provider *core.OAuthProvider
	// Metadata is nil when every endpoint was configured explicitly.
	Metadata *Metadata

	AuthorizationURL string
	TokenURL         string
	UserinfoURL      string

	oidc *oidc.Provider
}

// needsDiscovery is decided from configuration alone so the authorization
// and callback legs of one flow always agree.
func needsDiscovery(p *core.OAuthProvider) bool {
	if p.Issuer == "" && p.WellKnown == "" {
		return false
	}
	if !p.Authorization.Configured() || !p.Token.Configured() {
		return true
	}
	if !p.UsesIDToken() && !p.Userinfo.Configured() {
		return true
	}
	return p.Type == core.ProviderOIDC && p.JWKSURL == ""
}

// Resolve fills in the provider's endpoints, running discovery when the
// configuration requires it. Explicit endpoints win over discovered ones.
func Resolve(ctx context.Context, p *core.OAuthProvider, client *http.Client) (*Server, error) {
	s := &Server{
		Provider:         p,
		AuthorizationURL: p.Authorization.URL,
		TokenURL:         p.Token.URL,
		UserinfoURL:      p.Userinfo.URL,
	}
	if !needsDiscovery(p) {
		return s, nil
	}

	ctx = oidc.ClientContext(ctx, client)
	meta, provider, err := discover(ctx, p, client)
	if err != nil {
		return nil, err
	}
	s.Metadata = meta
	s.oidc = provider

	if s.AuthorizationURL == "" {
		s.AuthorizationURL = meta.AuthorizationEndpoint
	}
	if s.TokenURL == "" {
		s.TokenURL = meta.TokenEndpoint
	}
	if s.UserinfoURL == "" {
		s.UserinfoURL = meta.UserinfoEndpoint
	}
	return s, nil
}

func discover(ctx context.Context, p *core.OAuthProvider, client *http.Client) (*Metadata, *oidc.Provider, error) {
	if p.WellKnown == "" {
		provider, err := oidc.NewProvider(ctx, p.Issuer)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
		}
		meta := &Metadata{}
		if err := provider.Claims(meta); err != nil {
			return nil, nil, fmt.Errorf("failed to extract provider claims: %w", err)
		}
		return meta, provider, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.WellKnown, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read discovery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	meta := &Metadata{}
	if err := json.Unmarshal(body, meta); err != nil {
		return nil, nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if p.Issuer != "" && strings.TrimSuffix(meta.Issuer, "/") != strings.TrimSuffix(p.Issuer, "/") {
		return nil, nil, fmt.Errorf("discovery issuer %q does not match %q", meta.Issuer, p.Issuer)
	}

	provider := (&oidc.ProviderConfig{
		IssuerURL:   meta.Issuer,
		AuthURL:     meta.AuthorizationEndpoint,
		TokenURL:    meta.TokenEndpoint,
		UserInfoURL: meta.UserinfoEndpoint,
		JWKSURL:     meta.JWKSURI,
		Algorithms:  meta.IDTokenSigningAlgs,
	}).NewProvider(ctx)
	return meta, provider, nil
}

// verifier returns an ID token verifier for the server. Without a key set
// the token's signature cannot be checked and the claims are trusted on
// the strength of the TLS connection to the token endpoint.
func (s *Server) verifier(ctx context.Context, client *http.Client) *oidc.IDTokenVerifier {
	p := s.Provider
	cfg := &oidc.Config{ClientID: p.ClientID}

	if s.oidc != nil {
		return s.oidc.Verifier(cfg)
	}

	issuer := p.Issuer
	if issuer == "" {
		cfg.SkipIssuerCheck = true
	}
	if p.JWKSURL != "" {
		keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, client), p.JWKSURL)
		return oidc.NewVerifier(issuer, keySet, cfg)
	}

	cfg.InsecureSkipSignatureCheck = true
	return oidc.NewVerifier(issuer, &oidc.StaticKeySet{}, cfg)
}

// EffectiveChecks decides the checks for one request without touching the
// provider. PKCE is dropped only when the metadata lists challenge methods
// without S256; OIDC providers then use a nonce and OAuth providers state.
// A non-empty declared set never becomes empty.
func EffectiveChecks(opts *core.Options, s *Server) []core.Check {
	p := s.Provider
	checks := p.DeclaredChecks(opts.RedirectProxyURLFor(p))
	if !slices.Contains(checks, core.CheckPKCE) || s.Metadata == nil ||
		len(s.Metadata.CodeChallengeMethodsSupported) == 0 || s.Metadata.SupportsS256() {
		return checks
	}

	checks = slices.DeleteFunc(checks, func(c core.Check) bool { return c == core.CheckPKCE })
	fallback := core.CheckState
	if p.Type == core.ProviderOIDC {
		fallback = core.CheckNonce
	}
	if !slices.Contains(checks, fallback) {
		checks = append(checks, fallback)
	}
	return checks
}
