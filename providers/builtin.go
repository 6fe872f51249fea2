package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/lborres/gatehouse/core"
)

func init() {
	register(
		Definition{
			ID:              "github",
			Name:            "GitHub",
			Type:            core.ProviderOAuth,
			BaseURL:         "https://github.com",
			Authorization:   "{base}/login/oauth/authorize",
			Token:           "{base}/login/oauth/access_token",
			UserinfoRequest: githubUserinfo,
			Scope:           "read:user user:email",
			Profile:         githubProfile,
		},
		Definition{
			ID:            "gitlab",
			Name:          "GitLab",
			Type:          core.ProviderOAuth,
			BaseURL:       "https://gitlab.com",
			Authorization: "{base}/oauth/authorize",
			Token:         "{base}/oauth/token",
			Userinfo:      "{base}/api/v4/user",
			Scope:         "read_user",
			Profile:       gitlabProfile,
		},
		Definition{
			ID:            "discord",
			Name:          "Discord",
			Type:          core.ProviderOAuth,
			Authorization: "https://discord.com/api/oauth2/authorize",
			Token:         "https://discord.com/api/oauth2/token",
			Userinfo:      "https://discord.com/api/users/@me",
			Scope:         "identify email",
			Profile:       discordProfile,
		},
		Definition{
			ID:     "google",
			Name:   "Google",
			Type:   core.ProviderOIDC,
			Issuer: "https://accounts.google.com",
		},
		Definition{
			ID:               "apple",
			Name:             "Apple",
			Type:             core.ProviderOIDC,
			Issuer:           "https://appleid.apple.com",
			Scope:            "name email",
			Params:           map[string]string{"response_mode": "form_post"},
			Checks:           []core.Check{core.CheckNonce, core.CheckState},
			ClientAuthMethod: "client_secret_post",
		},
		Definition{
			ID:             "keycloak",
			Name:           "Keycloak",
			Type:           core.ProviderOIDC,
			RequiresIssuer: true,
		},
		Definition{
			ID:             "auth0",
			Name:           "Auth0",
			Type:           core.ProviderOIDC,
			RequiresIssuer: true,
		},
		Definition{
			ID:             "okta",
			Name:           "Okta",
			Type:           core.ProviderOIDC,
			RequiresIssuer: true,
		},
	)
}

func githubProfile(profile core.Profile, _ core.TokenSet) (*core.User, error) {
	name := core.ProfileString(profile, "name")
	if name == "" {
		name = core.ProfileString(profile, "login")
	}
	return &core.User{
		ID:    core.ProfileString(profile, "id"),
		Name:  name,
		Email: core.ProfileString(profile, "email"),
		Image: core.ProfileString(profile, "avatar_url"),
	}, nil
}

func githubAPI(base string) string {
	if base == "https://github.com" {
		return "https://api.github.com"
	}
	return base + "/api/v3"
}

// githubUserinfo reads /user and, when the public email is hidden, falls
// back to the primary address from /user/emails.
func githubUserinfo(base string) core.UserinfoRequestFunc {
	api := githubAPI(base)
	return func(ctx context.Context, r core.UserinfoRequest) (core.Profile, error) {
		profile := core.Profile{}
		if err := getJSON(ctx, r.Client, api+"/user", r.Tokens.AccessToken(), &profile); err != nil {
			return nil, err
		}
		if core.ProfileString(profile, "email") != "" {
			return profile, nil
		}

		var emails []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		}
		if err := getJSON(ctx, r.Client, api+"/user/emails", r.Tokens.AccessToken(), &emails); err != nil {
			// The user:email scope may not have been granted.
			return profile, nil
		}
		for _, e := range emails {
			if e.Primary {
				profile["email"] = e.Email
				break
			}
		}
		return profile, nil
	}
}

func gitlabProfile(profile core.Profile, _ core.TokenSet) (*core.User, error) {
	name := core.ProfileString(profile, "name")
	if name == "" {
		name = core.ProfileString(profile, "username")
	}
	return &core.User{
		ID:    core.ProfileString(profile, "id"),
		Name:  name,
		Email: core.ProfileString(profile, "email"),
		Image: core.ProfileString(profile, "avatar_url"),
	}, nil
}

func discordProfile(profile core.Profile, _ core.TokenSet) (*core.User, error) {
	id := core.ProfileString(profile, "id")
	name := core.ProfileString(profile, "global_name")
	if name == "" {
		name = core.ProfileString(profile, "username")
	}

	var image string
	if avatar := core.ProfileString(profile, "avatar"); avatar != "" {
		image = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", id, avatar)
	} else {
		image = fmt.Sprintf("https://cdn.discordapp.com/embed/avatars/%d.png", discordDefaultAvatar(id, core.ProfileString(profile, "discriminator")))
	}

	return &core.User{
		ID:    id,
		Name:  name,
		Email: core.ProfileString(profile, "email"),
		Image: image,
	}, nil
}

func discordDefaultAvatar(id, discriminator string) uint64 {
	if discriminator != "" && discriminator != "0" {
		n, _ := strconv.ParseUint(discriminator, 10, 64)
		return n % 5
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return (n >> 22) % 6
}

func getJSON(ctx context.Context, client *http.Client, url, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gatehouse")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}
