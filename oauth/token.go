package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
)

// exchangeCode trades the authorization code for tokens. The raw response
// goes through the provider's Conform hook before it is read.
func exchangeCode(ctx context.Context, opts *core.Options, s *Server, code, verifier, redirect string, params url.Values) (core.TokenSet, error) {
	p := s.Provider
	if p.Token.Request != nil {
		tokens, err := p.Token.Request(ctx, core.TokenRequest{
			Provider:     p,
			Code:         code,
			CodeVerifier: verifier,
			RedirectURI:  redirect,
			Params:       params,
			Client:       opts.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("custom token request failed: %w", err)
		}
		return tokens, nil
	}
	if s.TokenURL == "" {
		return nil, core.NewAuthError(core.TypeInvalidEndpoints, "provider "+p.ID+" has no token endpoint")
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirect},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	for k, v := range p.Token.Params {
		form.Set(k, v)
	}

	basic := false
	switch p.ClientAuthMethod {
	case "client_secret_post":
		form.Set("client_id", p.ClientID)
		form.Set("client_secret", p.ClientSecret)
	case "none":
		form.Set("client_id", p.ClientID)
	default:
		basic = true
	}

	opts.Logger.Debug("sending token request",
		zap.String("token_endpoint", s.TokenURL),
		zap.Bool("has_pkce_verifier", verifier != ""),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if basic {
		req.SetBasicAuth(url.QueryEscape(p.ClientID), url.QueryEscape(p.ClientSecret))
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	raw, err := decodeResponse(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token response (status %d): %w", resp.StatusCode, err)
	}
	if p.Conform != nil {
		if raw, err = p.Conform(raw); err != nil {
			return nil, fmt.Errorf("conform failed: %w", err)
		}
	}

	if e, _ := raw["error"].(string); e != "" {
		desc, _ := raw["error_description"].(string)
		return nil, core.NewAuthError(core.TypeOAuthCallbackError, strings.TrimSpace(e+" "+desc))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	tokens := core.TokenSet(raw)
	if tokens.AccessToken() == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return tokens, nil
}

func decodeResponse(contentType string, body []byte) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "text/plain" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(values))
		for k := range values {
			out[k] = values.Get(k)
		}
		return out, nil
	}

	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fetchUserinfo(ctx context.Context, opts *core.Options, s *Server, tokens core.TokenSet) (core.Profile, error) {
	p := s.Provider
	if p.Userinfo.Request != nil {
		profile, err := p.Userinfo.Request(ctx, core.UserinfoRequest{Provider: p, Tokens: tokens, Client: opts.HTTPClient})
		if err != nil {
			return nil, fmt.Errorf("custom userinfo request failed: %w", err)
		}
		return profile, nil
	}
	if s.UserinfoURL == "" {
		return nil, core.NewAuthError(core.TypeInvalidEndpoints, "provider "+p.ID+" has no userinfo endpoint")
	}

	u, err := url.Parse(s.UserinfoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid userinfo endpoint: %w", err)
	}
	if len(p.Userinfo.Params) > 0 {
		q := u.Query()
		for k, v := range p.Userinfo.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken())
	req.Header.Set("Accept", "application/json")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	profile := core.Profile{}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return profile, nil
}
