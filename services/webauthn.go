package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/oauth"
	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/crypto"
)

const (
	webAuthnChallengeLength = 32
	defaultWebAuthnTimeout  = 5 * time.Minute
)

// COSE algorithm identifiers: ES256 and RS256.
var webAuthnAlgorithms = []int{-7, -257}

type credentialDescriptor struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Transports []string `json:"transports,omitempty"`
}

func relyingParty(opts *core.Options, p *core.WebAuthnProvider) core.RelyingParty {
	rp := p.RelyingParty
	if rp.ID == "" {
		rp.ID = opts.URL.Hostname()
	}
	if rp.Name == "" {
		rp.Name = rp.ID
	}
	if rp.Origin == "" {
		rp.Origin = opts.Origin()
	}
	return rp
}

// webAuthnAction decides what the options request is for. A signed-in
// user may only register; a register request for someone else is refused.
func webAuthnAction(requested core.WebAuthnAction, loggedIn, exists, hasUser bool) (core.WebAuthnAction, bool) {
	switch requested {
	case core.WebAuthnAuthenticate:
		return core.WebAuthnAuthenticate, true
	case core.WebAuthnRegister:
		if hasUser && loggedIn == exists {
			return core.WebAuthnRegister, true
		}
	case "":
		if loggedIn {
			break
		}
		if hasUser && !exists {
			return core.WebAuthnRegister, true
		}
		return core.WebAuthnAuthenticate, true
	}
	return "", false
}

func (h *Handler) webAuthnOptions(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore) (*core.Response, error) {
	p, ok := opts.Provider.(*core.WebAuthnProvider)
	if !ok {
		return nil, core.NewAuthError(core.TypeInvalidProvider, "webauthn-options requires a webauthn provider")
	}
	users, _ := h.cfg.Adapter.(core.UserStorage)
	authenticators, _ := h.cfg.Adapter.(core.AuthenticatorStorage)
	if users == nil || authenticators == nil {
		return nil, core.NewAuthError(core.TypeMissingAdapterMethods, "webauthn requires user and authenticator storage")
	}

	current, err := h.sessions.Current(ctx, opts, store.Value())
	if err != nil {
		return nil, err
	}

	var user *core.User
	loggedIn := current != nil && current.User != nil
	if loggedIn {
		user = current.User
	}
	email := req.Query().Get("email")
	exists := false
	if !loggedIn && email != "" {
		normalized, err := normalizeEmail(email)
		if err != nil {
			return nil, core.WrapAuthError(core.TypeWebAuthnVerificationError, err, "")
		}
		byEmail, err := users.GetUserByEmail(ctx, normalized)
		if err != nil {
			return nil, adapterError(err, "failed to look up user by email")
		}
		if byEmail != nil {
			user, exists = byEmail, true
		} else {
			user = &core.User{ID: uuid.NewString(), Email: normalized}
		}
	}
	if loggedIn {
		exists = true
	}

	action, ok := webAuthnAction(core.WebAuthnAction(req.Query().Get("action")), loggedIn, exists, user != nil)
	if !ok {
		res := core.NewResponse()
		_ = res.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return res, nil
	}

	challenge, err := crypto.RandomString(webAuthnChallengeLength)
	if err != nil {
		return nil, err
	}
	rp := relyingParty(opts, p)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultWebAuthnTimeout
	}

	var known []credentialDescriptor
	if user != nil && exists {
		list, err := authenticators.ListAuthenticatorsByUserID(ctx, user.ID)
		if err != nil {
			return nil, adapterError(err, "failed to list authenticators")
		}
		for _, a := range list {
			d := credentialDescriptor{ID: a.CredentialID, Type: "public-key"}
			if a.Transports != "" {
				d.Transports = strings.Split(a.Transports, ",")
			}
			known = append(known, d)
		}
	}

	var body map[string]any
	var registerData *core.User
	switch action {
	case core.WebAuthnRegister:
		registerData = user
		params := make([]map[string]any, 0, len(webAuthnAlgorithms))
		for _, alg := range webAuthnAlgorithms {
			params = append(params, map[string]any{"type": "public-key", "alg": alg})
		}
		name := user.Email
		if name == "" {
			name = user.ID
		}
		body = map[string]any{
			"challenge": challenge,
			"rp":        map[string]string{"id": rp.ID, "name": rp.Name},
			"user": map[string]string{
				"id":          base64.RawURLEncoding.EncodeToString([]byte(user.ID)),
				"name":        name,
				"displayName": cmpOr(user.Name, name),
			},
			"pubKeyCredParams":   params,
			"timeout":            timeout.Milliseconds(),
			"excludeCredentials": nonNil(known),
			"authenticatorSelection": map[string]string{
				"residentKey":      "preferred",
				"userVerification": "preferred",
			},
		}
	default:
		body = map[string]any{
			"challenge":        challenge,
			"rpId":             rp.ID,
			"timeout":          timeout.Milliseconds(),
			"userVerification": "preferred",
			"allowCredentials": nonNil(known),
		}
	}

	c, err := oauth.CreateWebAuthnChallenge(opts, challenge, registerData)
	if err != nil {
		return nil, err
	}
	res := core.NewResponse()
	if err := res.JSON(http.StatusOK, map[string]any{"options": body, "action": action}); err != nil {
		return nil, err
	}
	res.Cookies = append(res.Cookies, c)
	return res, nil
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func nonNil(d []credentialDescriptor) []credentialDescriptor {
	if d == nil {
		return []credentialDescriptor{}
	}
	return d
}

// webAuthnCallback verifies a registration or assertion against the
// challenge cookie. Failures other than account linking and access
// denials surface as WebAuthnVerificationError.
func (h *Handler) webAuthnCallback(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore, p *core.WebAuthnProvider) (*core.Response, error) {
	res, err := h.verifyWebAuthn(ctx, req, opts, store, p)
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) {
			switch ae.Type {
			case core.TypeWebAuthnVerificationError, core.TypeAccountNotLinked, core.TypeAccessDenied, core.TypeMissingAdapterMethods:
				return res, err
			}
		}
		return res, core.WrapAuthError(core.TypeWebAuthnVerificationError, err, "")
	}
	return res, nil
}

func (h *Handler) verifyWebAuthn(ctx context.Context, req *core.Request, opts *core.Options, store *cookie.SessionStore, p *core.WebAuthnProvider) (*core.Response, error) {
	res := core.NewResponse()
	users, _ := h.cfg.Adapter.(core.UserStorage)
	authenticators, _ := h.cfg.Adapter.(core.AuthenticatorStorage)
	if users == nil || authenticators == nil {
		return res, core.NewAuthError(core.TypeMissingAdapterMethods, "webauthn requires user and authenticator storage")
	}

	challenge, registerData, cleared, err := oauth.UseWebAuthnChallenge(opts, req.Cookies)
	res.Cookies = append(res.Cookies, cleared)
	if err != nil {
		return res, err
	}

	action := core.WebAuthnAction(req.Body["action"])
	data := json.RawMessage(req.Body["data"])
	if len(data) == 0 || !json.Valid(data) {
		return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "missing or malformed credential data")
	}
	rp := relyingParty(opts, p)

	switch action {
	case core.WebAuthnAuthenticate:
		var cred struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &cred); err != nil || cred.ID == "" {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "credential id missing")
		}
		authenticator, err := authenticators.GetAuthenticator(ctx, cred.ID)
		if err != nil {
			return res, adapterError(err, "failed to load authenticator")
		}
		if authenticator == nil {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "unknown authenticator")
		}

		v, err := p.Verify(ctx, core.WebAuthnVerifyInput{
			Action:        action,
			Challenge:     challenge,
			Response:      data,
			RelyingParty:  rp,
			Authenticator: authenticator,
		})
		if err != nil {
			return res, err
		}
		if v == nil || !v.Verified {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "assertion not verified")
		}
		if _, err := authenticators.UpdateAuthenticatorCounter(ctx, authenticator.CredentialID, v.Counter); err != nil {
			return res, adapterError(err, "failed to update authenticator counter")
		}

		account, err := authenticators.GetAccount(ctx, authenticator.ProviderAccountID, p.ID)
		if err != nil {
			return res, adapterError(err, "failed to load account")
		}
		if account == nil {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "authenticator has no account")
		}
		user, err := users.GetUser(ctx, account.UserID)
		if err != nil {
			return res, adapterError(err, "failed to load user")
		}
		if user == nil {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "authenticator user not found")
		}
		return h.finishWebAuthn(ctx, opts, store, res, user, account, nil)

	case core.WebAuthnRegister:
		if registerData == nil {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "challenge was not issued for registration")
		}
		v, err := p.Verify(ctx, core.WebAuthnVerifyInput{
			Action:       action,
			Challenge:    challenge,
			Response:     data,
			RelyingParty: rp,
		})
		if err != nil {
			return res, err
		}
		if v == nil || !v.Verified || v.CredentialID == "" {
			return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "attestation not verified")
		}
		account := &core.Account{
			UserID:            registerData.ID,
			Type:              core.ProviderWebAuthn,
			Provider:          p.ID,
			ProviderAccountID: v.CredentialID,
		}
		authenticator := &core.Authenticator{
			CredentialID:         v.CredentialID,
			ProviderAccountID:    v.CredentialID,
			CredentialPublicKey:  v.PublicKey,
			Counter:              v.Counter,
			CredentialDeviceType: v.DeviceType,
			CredentialBackedUp:   v.BackedUp,
			Transports:           strings.Join(v.Transports, ","),
		}
		return h.finishWebAuthn(ctx, opts, store, res, registerData, account, authenticator)
	}
	return res, core.NewAuthError(core.TypeWebAuthnVerificationError, "invalid action "+url.QueryEscape(string(action)))
}

// finishWebAuthn runs the shared sign-in tail. A new authenticator is
// stored once its account is linked to the resolved user.
func (h *Handler) finishWebAuthn(ctx context.Context, opts *core.Options, store *cookie.SessionStore, res *core.Response, user *core.User, account *core.Account, authenticator *core.Authenticator) (*core.Response, error) {
	redirect, err := h.authorize(ctx, opts, core.SignInParams{User: user, Account: account})
	if err != nil {
		return res, err
	}
	if redirect != "" {
		res.Redirect = redirect
		return res, nil
	}

	login, err := h.loginOrRegister(ctx, opts, store.Value(), user, account)
	if err != nil {
		return res, err
	}
	if authenticator != nil {
		authenticator.UserID = login.User.ID
		if _, err := h.cfg.Adapter.(core.AuthenticatorStorage).CreateAuthenticator(ctx, authenticator); err != nil {
			return res, adapterError(err, "failed to store authenticator")
		}
	}

	cookies, err := h.sessions.Issue(ctx, opts, store, login, nil)
	if err != nil {
		return res, err
	}
	res.Cookies = append(res.Cookies, cookies...)
	h.emitSignIn(ctx, core.SignInEvent{User: login.User, Account: login.Account, IsNewUser: login.IsNewUser})

	res.Redirect = opts.CallbackURL
	if login.IsNewUser && h.cfg.Pages.NewUser != "" {
		res.Redirect = withQuery(pageURL(opts, h.cfg.Pages.NewUser, core.ActionSignIn), "callbackUrl="+url.QueryEscape(opts.CallbackURL))
	}
	return res, nil
}
