package services

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/oauth"
	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/crypto"
)

// callback completes a sign-in for every provider type. Errors that are
// not already AuthErrors are reported as CallbackRouteError.
func (h *Handler) callback(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore) (*core.Response, error) {
	if opts.Provider == nil {
		return nil, core.NewAuthError(core.TypeInvalidProvider, "callback route requires a configured provider")
	}

	var res *core.Response
	var err error
	switch p := opts.Provider.(type) {
	case *core.OAuthProvider:
		res, err = h.oauthCallback(ctx, req, opts, store, p)
	case *core.EmailProvider:
		res, err = h.emailCallback(ctx, req, opts, store, p)
	case *core.CredentialsProvider:
		res, err = h.credentialsCallback(ctx, req, opts, store, p)
	case *core.WebAuthnProvider:
		res, err = h.webAuthnCallback(ctx, req, opts, store, p)
	}
	if err != nil {
		var ae *core.AuthError
		if !errors.As(err, &ae) {
			err = core.WrapAuthError(core.TypeCallbackRouteError, err, "")
		}
		return res, err
	}
	return res, nil
}

func (h *Handler) oauthCallback(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore, p *core.OAuthProvider) (*core.Response, error) {
	res := core.NewResponse()

	cb, err := oauth.HandleCallback(ctx, opts, oauth.Params(p, req), req.Cookies)
	res.Cookies = append(res.Cookies, cb.Cookies...)
	if err != nil {
		return res, err
	}
	if cb.ProxyRedirect != "" {
		res.Redirect = cb.ProxyRedirect
		return res, nil
	}

	signInUser := cb.User
	if users, ok := h.cfg.Adapter.(core.UserStorage); ok {
		known, err := users.GetUserByAccount(ctx, cb.Account.Key())
		if err != nil {
			return res, adapterError(err, "failed to look up user by account")
		}
		if known != nil {
			signInUser = known
		}
	}

	redirect, err := h.authorize(ctx, opts, core.SignInParams{User: signInUser, Account: cb.Account, Profile: cb.Profile})
	if err != nil {
		return res, err
	}
	if redirect != "" {
		res.Redirect = redirect
		return res, nil
	}

	return h.completeSignIn(ctx, opts, store, res, cb.User, cb.Account, cb.Profile)
}

// completeSignIn resolves the user, issues the session and redirects to
// the callback URL, or to the new-user page on first sign-in.
func (h *Handler) completeSignIn(ctx context.Context, opts *core.Options, store *cookie.SessionStore, res *core.Response, user *core.User, account *core.Account, profile core.Profile) (*core.Response, error) {
	login, err := h.loginOrRegister(ctx, opts, store.Value(), user, account)
	if err != nil {
		return res, err
	}

	cookies, err := h.sessions.Issue(ctx, opts, store, login, profile)
	if err != nil {
		return res, err
	}
	res.Cookies = append(res.Cookies, cookies...)

	h.emitSignIn(ctx, core.SignInEvent{User: login.User, Account: login.Account, Profile: profile, IsNewUser: login.IsNewUser})
	h.logger.Debug("signed in",
		zap.String("provider", account.Provider),
		zap.String("user_id", login.User.ID),
		zap.Bool("new_user", login.IsNewUser),
	)

	res.Redirect = opts.CallbackURL
	if login.IsNewUser && h.cfg.Pages.NewUser != "" {
		res.Redirect = withQuery(pageURL(opts, h.cfg.Pages.NewUser, core.ActionSignIn), "callbackUrl="+url.QueryEscape(opts.CallbackURL))
	}
	return res, nil
}

func (h *Handler) emailCallback(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore, p *core.EmailProvider) (*core.Response, error) {
	res := core.NewResponse()

	token := req.Query().Get("token")
	identifier := req.Query().Get("email")
	if token == "" {
		return res, core.NewAuthError(core.TypeConfiguration, "missing token")
	}

	tokens, ok := h.cfg.Adapter.(core.VerificationTokenStorage)
	if !ok {
		return res, core.NewAuthError(core.TypeMissingAdapterMethods, "adapter does not implement VerificationTokenStorage")
	}
	vt, err := tokens.UseVerificationToken(ctx, identifier, crypto.CreateHash(token+opts.Secret[0]))
	if err != nil {
		return res, adapterError(err, "failed to use verification token")
	}
	if vt == nil || vt.Expires.Before(timeNow()) || vt.Identifier != identifier {
		return res, core.NewAuthError(core.TypeVerification, "verification token is invalid or has expired")
	}

	user := &core.User{ID: uuid.NewString(), Email: identifier}
	if users, ok := h.cfg.Adapter.(core.UserStorage); ok {
		existing, err := users.GetUserByEmail(ctx, identifier)
		if err != nil {
			return res, adapterError(err, "failed to look up user by email")
		}
		if existing != nil {
			user = existing
		}
	}
	account := &core.Account{
		UserID:            user.ID,
		Type:              core.ProviderEmail,
		Provider:          p.ID,
		ProviderAccountID: identifier,
	}

	redirect, err := h.authorize(ctx, opts, core.SignInParams{User: user, Account: account})
	if err != nil {
		return res, err
	}
	if redirect != "" {
		res.Redirect = redirect
		return res, nil
	}

	return h.completeSignIn(ctx, opts, store, res, user, account, nil)
}

// credentialsCallback signs in with submitted credentials. Credentials
// sessions are always JWTs; nothing is written to the adapter.
func (h *Handler) credentialsCallback(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore, p *core.CredentialsProvider) (*core.Response, error) {
	res := core.NewResponse()

	creds := make(map[string]string, len(req.Body))
	for k, v := range req.Body {
		creds[k] = v
	}

	user, err := p.Authorize(ctx, creds, req)
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) {
			return res, err
		}
		return res, core.WrapAuthError(core.TypeCallbackRouteError, err, "authorize failed")
	}
	if user == nil {
		return res, core.CredentialsSignin("")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	account := &core.Account{
		UserID:            user.ID,
		Type:              core.ProviderCredentials,
		Provider:          p.ID,
		ProviderAccountID: user.ID,
	}

	redirect, err := h.authorize(ctx, opts, core.SignInParams{User: user, Account: account, Credentials: creds})
	if err != nil {
		return res, err
	}
	if redirect != "" {
		res.Redirect = redirect
		return res, nil
	}

	cookies, err := h.sessions.IssueJWT(ctx, opts, store, core.JWTParams{
		Token:   defaultToken(user),
		User:    user,
		Account: account,
		Trigger: core.TriggerSignIn,
	})
	if err != nil {
		return res, err
	}
	res.Cookies = append(res.Cookies, cookies...)

	h.emitSignIn(ctx, core.SignInEvent{User: user, Account: account})
	res.Redirect = opts.CallbackURL
	return res, nil
}
