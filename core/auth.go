package core

import (
	"context"
	"net/url"
	"strings"

	"github.com/lborres/gatehouse/pkg/jwt"
)

type Trigger string

const (
	TriggerSignIn Trigger = "signIn"
	TriggerSignUp Trigger = "signUp"
	TriggerUpdate Trigger = "update"
)

type SignInParams struct {
	User    *User
	Account *Account
	Profile Profile
	// VerificationRequest is set when an email sign-in link is about to be sent.
	VerificationRequest bool
	Credentials         map[string]string
}

type RedirectParams struct {
	URL string
	// BaseURL is the origin of the deployment.
	BaseURL string
}

type JWTParams struct {
	Token     jwt.Claims
	User      *User
	Account   *Account
	Profile   Profile
	Trigger   Trigger
	IsNewUser bool
	// Session is the data posted with an update.
	Session map[string]any
}

type SessionParams struct {
	Session map[string]any
	// Token is set for jwt sessions, User for database sessions.
	Token      jwt.Claims
	User       *User
	NewSession map[string]any
	Trigger    Trigger
}

// Callbacks customise the flows. Nil fields use the defaults.
type Callbacks struct {
	// SignIn may deny a sign-in, or redirect elsewhere by returning a URL
	// with allowed false.
	SignIn   func(ctx context.Context, p SignInParams) (allowed bool, redirect string, err error)
	Redirect func(ctx context.Context, p RedirectParams) (string, error)
	// JWT returns the claims to store. Nil claims end the session.
	JWT     func(ctx context.Context, p JWTParams) (jwt.Claims, error)
	Session func(ctx context.Context, p SessionParams) (map[string]any, error)
}

func DefaultSignIn(context.Context, SignInParams) (bool, string, error) {
	return true, "", nil
}

// DefaultRedirect allows relative URLs and URLs on the same origin.
func DefaultRedirect(_ context.Context, p RedirectParams) (string, error) {
	if strings.HasPrefix(p.URL, "/") {
		return p.BaseURL + p.URL, nil
	}
	u, err := url.Parse(p.URL)
	if err == nil && u.Scheme+"://"+u.Host == p.BaseURL {
		return p.URL, nil
	}
	return p.BaseURL, nil
}

// DefaultJWT keeps the token, merging posted data on update.
func DefaultJWT(_ context.Context, p JWTParams) (jwt.Claims, error) {
	if p.Trigger == TriggerUpdate {
		if p.Token == nil {
			p.Token = jwt.Claims{}
		}
		for k, v := range p.Session {
			p.Token[k] = v
		}
	}
	return p.Token, nil
}

// DefaultSession returns the session as built, with posted data merged in
// on update.
func DefaultSession(_ context.Context, p SessionParams) (map[string]any, error) {
	if p.Trigger == TriggerUpdate && len(p.NewSession) > 0 {
		if p.Session == nil {
			p.Session = map[string]any{}
		}
		for k, v := range p.NewSession {
			p.Session[k] = v
		}
	}
	return p.Session, nil
}

type SignInEvent struct {
	User      *User
	Account   *Account
	Profile   Profile
	IsNewUser bool
}

type SignOutEvent struct {
	Token   jwt.Claims
	Session *Session
}

type LinkAccountEvent struct {
	User    *User
	Account *Account
	Profile Profile
}

type SessionEvent struct {
	Session map[string]any
	Token   jwt.Claims
}

// Events are notified after the fact. Their errors are logged and never
// fail a request.
type Events struct {
	SignIn      func(ctx context.Context, e SignInEvent) error
	SignOut     func(ctx context.Context, e SignOutEvent) error
	CreateUser  func(ctx context.Context, u *User) error
	UpdateUser  func(ctx context.Context, u *User) error
	LinkAccount func(ctx context.Context, e LinkAccountEvent) error
	Session     func(ctx context.Context, e SessionEvent) error
}

// Pages override the built-in pages.
type Pages struct {
	SignIn        string
	SignOut       string
	Error         string
	VerifyRequest string
	NewUser       string
}
