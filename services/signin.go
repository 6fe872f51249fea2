package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/oauth"
	"github.com/lborres/gatehouse/pkg/crypto"
)

const (
	verificationTokenLength = 32
	defaultEmailMaxAge      = 24 * time.Hour
)

// signIn starts a sign-in: a redirect to the OAuth provider, or a mailed
// link for email providers. Other providers sign in on the callback route.
func (h *Handler) signIn(ctx context.Context, req *core.Request, opts *core.Options) (*core.Response, error) {
	res := core.NewResponse()

	switch p := opts.Provider.(type) {
	case *core.OAuthProvider:
		result, err := oauth.AuthorizationURL(ctx, opts, req.Query())
		if err != nil {
			var ae *core.AuthError
			if errors.As(err, &ae) {
				return nil, err
			}
			return nil, core.WrapAuthError(core.TypeOAuthSignInError, err, "")
		}
		res.Redirect = result.Redirect
		res.Cookies = result.Cookies
		return res, nil

	case *core.EmailProvider:
		redirect, err := h.sendVerification(ctx, req, opts, p)
		if err != nil {
			var ae *core.AuthError
			if errors.As(err, &ae) {
				return nil, err
			}
			return nil, core.WrapAuthError(core.TypeEmailSignInError, err, "")
		}
		res.Redirect = redirect
		return res, nil
	}

	res.Redirect = opts.BaseURL() + "/signin"
	return res, nil
}

// normalizeEmail lowercases and trims the address. Only the first domain
// of a comma separated list is kept.
func normalizeEmail(identifier string) (string, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	local, domain, ok := strings.Cut(identifier, "@")
	if !ok || local == "" || domain == "" {
		return "", fmt.Errorf("invalid email address %q", identifier)
	}
	domain, _, _ = strings.Cut(domain, ",")
	return local + "@" + domain, nil
}

func (h *Handler) sendVerification(ctx context.Context, req *core.Request, opts *core.Options, p *core.EmailProvider) (string, error) {
	normalize := normalizeEmail
	if p.NormalizeIdentifier != nil {
		normalize = p.NormalizeIdentifier
	}
	email, err := normalize(req.Param("email"))
	if err != nil {
		return "", core.WrapAuthError(core.TypeEmailSignInError, err, "")
	}

	users, _ := h.cfg.Adapter.(core.UserStorage)
	tokens, _ := h.cfg.Adapter.(core.VerificationTokenStorage)
	if users == nil || tokens == nil {
		return "", core.NewAuthError(core.TypeMissingAdapterMethods, "email sign in requires user and verification token storage")
	}

	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", adapterError(err, "failed to look up user by email")
	}
	if user == nil {
		user = &core.User{ID: uuid.NewString(), Email: email}
	}
	account := &core.Account{
		UserID:            user.ID,
		Type:              core.ProviderEmail,
		Provider:          p.ID,
		ProviderAccountID: email,
	}

	redirect, err := h.authorize(ctx, opts, core.SignInParams{
		User:                user,
		Account:             account,
		VerificationRequest: true,
	})
	if err != nil || redirect != "" {
		return redirect, err
	}

	token, err := verificationToken(p)
	if err != nil {
		return "", err
	}
	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = defaultEmailMaxAge
	}
	expires := timeNow().Add(maxAge)

	q := url.Values{}
	q.Set("callbackUrl", opts.CallbackURL)
	q.Set("token", token)
	q.Set("email", email)
	link := opts.CallbackURLFor(p.ID) + "?" + q.Encode()

	if _, err := tokens.CreateVerificationToken(ctx, &core.VerificationToken{
		Identifier: email,
		Token:      crypto.CreateHash(token + opts.Secret[0]),
		Expires:    expires,
	}); err != nil {
		return "", adapterError(err, "failed to store verification token")
	}

	if err := p.SendVerificationRequest(ctx, core.VerificationRequest{
		Identifier: email,
		URL:        link,
		Expires:    expires,
		Token:      token,
		Provider:   p,
	}); err != nil {
		return "", err
	}
	h.logger.Debug("verification request sent", zap.String("provider", p.ID))

	q = url.Values{}
	q.Set("provider", p.ID)
	q.Set("type", string(core.ProviderEmail))
	return withQuery(pageURL(opts, h.cfg.Pages.VerifyRequest, core.ActionVerifyRequest), q.Encode()), nil
}

func verificationToken(p *core.EmailProvider) (string, error) {
	if p.GenerateVerificationToken != nil {
		return p.GenerateVerificationToken()
	}
	return crypto.RandomString(verificationTokenLength)
}
