package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/lborres/gatehouse/core"
)

var timeNow = time.Now

// normalize runs the provider's profile mapping and builds the account.
// The user's ID is the provider account id; storage assigns its own.
func normalize(p *core.OAuthProvider, profile core.Profile, tokens core.TokenSet) (*core.User, *core.Account, error) {
	mapProfile := p.Profile
	if mapProfile == nil {
		mapProfile = core.DefaultProfile
	}

	user, err := mapProfile(profile, tokens)
	if err != nil {
		return nil, nil, core.WrapAuthError(core.TypeOAuthProfileParseError, err, "profile mapping failed")
	}
	if user == nil || user.ID == "" {
		return nil, nil, core.NewAuthError(core.TypeOAuthProfileParseError,
			fmt.Sprintf("profile returned by %s has no id", p.ID))
	}
	user.Email = strings.ToLower(user.Email)

	account := &core.Account{
		Type:              p.Type,
		Provider:          p.ID,
		ProviderAccountID: user.ID,
		AccessToken:       tokens.AccessToken(),
		RefreshToken:      tokens.RefreshToken(),
		IDToken:           tokens.IDToken(),
		TokenType:         tokens.TokenType(),
		Scope:             tokens.Scope(),
	}
	if n, ok := tokens.ExpiresIn(); ok {
		account.ExpiresAt = timeNow().Unix() + n
	} else if at, ok := tokens["expires_at"].(float64); ok {
		account.ExpiresAt = int64(at)
	}
	return user, account, nil
}
