package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cache"
	"github.com/lborres/gatehouse/pkg/cookie"
	"github.com/lborres/gatehouse/pkg/jwt"
)

var timeNow = time.Now

// SessionManager issues, reads and ends sessions under either strategy.
type SessionManager struct {
	cfg     *core.Config
	storage core.SessionStorage // nil unless the adapter stores sessions
	cached  *cache.SessionStorage
	users   core.UserStorage
	logger  *zap.Logger
}

func NewSessionManager(cfg *core.Config) *SessionManager {
	sm := &SessionManager{cfg: cfg, logger: cfg.Logger}
	if s, ok := cfg.Adapter.(core.SessionStorage); ok {
		if cfg.Cache != nil {
			sm.cached = cache.WrapSessions(s, cfg.Cache)
			s = sm.cached
		}
		sm.storage = s
	}
	if u, ok := cfg.Adapter.(core.UserStorage); ok {
		sm.users = u
	}
	return sm
}

// userChanged drops cached session lookups that carry a stale copy of
// the user.
func (sm *SessionManager) userChanged(userID string) {
	if sm.cached != nil {
		sm.cached.InvalidateUser(userID)
	}
}

func (sm *SessionManager) useJWT() bool {
	return sm.cfg.SessionStrategy() == core.StrategyJWT
}

// defaultToken holds the claims a fresh session token starts with.
func defaultToken(u *core.User) jwt.Claims {
	token := jwt.Claims{"sub": u.ID}
	if u.Name != "" {
		token["name"] = u.Name
	}
	if u.Email != "" {
		token["email"] = u.Email
	}
	if u.Image != "" {
		token["picture"] = u.Image
	}
	return token
}

func (sm *SessionManager) encode(opts *core.Options, store *cookie.SessionStore, token jwt.Claims) ([]cookie.Cookie, error) {
	def := opts.Cookies.SessionToken
	value, err := opts.JWT.Encode(jwt.EncodeParams{
		Claims: token,
		Secret: opts.Secret,
		Salt:   def.Name,
		MaxAge: opts.JWT.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session token: %w", err)
	}
	o := def.Options
	o.Expires = timeNow().Add(opts.Session.MaxAge)
	return store.Chunk(value, o), nil
}

func (sm *SessionManager) decode(opts *core.Options, value string) (jwt.Claims, error) {
	return opts.JWT.Decode(jwt.DecodeParams{
		Token:  value,
		Secret: opts.Secret,
		Salt:   opts.Cookies.SessionToken.Name,
	})
}

// Create persists a database session for userID.
func (sm *SessionManager) Create(ctx context.Context, userID string) (*core.Session, error) {
	if sm.storage == nil {
		return nil, core.NewAuthError(core.TypeMissingAdapterMethods, "adapter does not implement SessionStorage")
	}

	token, err := sm.cfg.Session.GenerateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	session, err := sm.storage.CreateSession(ctx, &core.Session{
		SessionToken: token,
		UserID:       userID,
		Expires:      timeNow().Add(sm.cfg.Session.MaxAge),
	})
	if err != nil {
		return nil, adapterError(err, "failed to create session")
	}
	return session, nil
}

func sessionCookie(opts *core.Options, s *core.Session) cookie.Cookie {
	c := opts.Cookies.SessionToken.New(s.SessionToken)
	c.Options.Expires = s.Expires
	return c
}

// Issue writes the session cookies after a successful sign-in.
func (sm *SessionManager) Issue(ctx context.Context, opts *core.Options, store *cookie.SessionStore, login *loginResult, profile core.Profile) ([]cookie.Cookie, error) {
	if !sm.useJWT() {
		if login.Session == nil {
			return nil, core.NewAuthError(core.TypeSessionTokenError, "no database session was created")
		}
		return []cookie.Cookie{sessionCookie(opts, login.Session)}, nil
	}

	trigger := core.TriggerSignIn
	if login.IsNewUser {
		trigger = core.TriggerSignUp
	}
	return sm.IssueJWT(ctx, opts, store, core.JWTParams{
		Token:     defaultToken(login.User),
		User:      login.User,
		Account:   login.Account,
		Profile:   profile,
		Trigger:   trigger,
		IsNewUser: login.IsNewUser,
	})
}

// IssueJWT runs the JWT callback and stores its result. Nil claims clear
// the session instead.
func (sm *SessionManager) IssueJWT(ctx context.Context, opts *core.Options, store *cookie.SessionStore, p core.JWTParams) ([]cookie.Cookie, error) {
	token, err := opts.Callbacks.JWT(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("jwt callback failed: %w", err)
	}
	if token == nil {
		return store.Clean(), nil
	}
	return sm.encode(opts, store, token)
}

type currentSession struct {
	Token   jwt.Claims
	Session *core.Session
	User    *core.User
}

// Current returns what the request's session cookie refers to, or nil.
// Decode failures count as no session.
func (sm *SessionManager) Current(ctx context.Context, opts *core.Options, value string) (*currentSession, error) {
	if value == "" {
		return nil, nil
	}

	if sm.useJWT() {
		token, err := sm.decode(opts, value)
		if err != nil {
			sm.logger.Debug("ignoring undecodable session token", zap.Error(err))
			return nil, nil
		}
		cur := &currentSession{Token: token}
		if sub := token.String("sub"); sub != "" && sm.users != nil {
			u, err := sm.users.GetUser(ctx, sub)
			if err != nil {
				return nil, adapterError(err, "failed to load session user")
			}
			cur.User = u
		}
		return cur, nil
	}

	if sm.storage == nil {
		return nil, nil
	}
	v, err := sm.storage.GetSessionAndUser(ctx, value)
	if err != nil {
		return nil, adapterError(err, "failed to load session")
	}
	if v == nil || v.Session.Expires.Before(timeNow()) {
		return nil, nil
	}
	return &currentSession{Session: v.Session, User: v.User}, nil
}

func sessionPayload(name, email, image string, expires time.Time) map[string]any {
	user := map[string]any{}
	if name != "" {
		user["name"] = name
	}
	if email != "" {
		user["email"] = email
	}
	if image != "" {
		user["image"] = image
	}
	return map[string]any{
		"user":    user,
		"expires": expires.UTC().Format(time.RFC3339),
	}
}

// Get implements the session action. Any failure reads as no session: the
// body is null and the session cookies are cleared.
func (sm *SessionManager) Get(ctx context.Context, opts *core.Options, store *cookie.SessionStore, isUpdate bool, data map[string]any) *core.Response {
	res := core.NewResponse()
	res.Headers.Set("Content-Type", "application/json")
	if !isUpdate {
		res.Headers.Set("Cache-Control", "private, no-cache, no-store")
		res.Headers.Set("Expires", "0")
		res.Headers.Set("Pragma", "no-cache")
	}
	res.Body = []byte("null")

	value := store.Value()
	if value == "" {
		return res
	}

	var body map[string]any
	var err error
	if sm.useJWT() {
		body, err = sm.jwtSession(ctx, opts, store, res, isUpdate, data)
	} else {
		body, err = sm.databaseSession(ctx, opts, store, res, value, isUpdate, data)
	}
	if err != nil {
		sm.logger.Error("session lookup failed", zap.Error(err))
		res.Cookies = append(res.Cookies, store.Clean()...)
		return res
	}
	if body != nil {
		_ = res.JSON(http.StatusOK, body)
	}
	return res
}

func (sm *SessionManager) jwtSession(ctx context.Context, opts *core.Options, store *cookie.SessionStore, res *core.Response, isUpdate bool, data map[string]any) (map[string]any, error) {
	payload, err := sm.decode(opts, store.Value())
	if err != nil {
		return nil, core.WrapAuthError(core.TypeJWTSessionError, err, "")
	}

	params := core.JWTParams{Token: payload}
	if isUpdate {
		params.Trigger = core.TriggerUpdate
		params.Session = data
	}
	token, err := opts.Callbacks.JWT(ctx, params)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeJWTSessionError, err, "jwt callback failed")
	}
	if token == nil {
		res.Cookies = append(res.Cookies, store.Clean()...)
		return nil, nil
	}

	expires := timeNow().Add(opts.Session.MaxAge)
	session, err := opts.Callbacks.Session(ctx, core.SessionParams{
		Session: sessionPayload(token.String("name"), token.String("email"), token.String("picture"), expires),
		Token:   token,
	})
	if err != nil {
		return nil, core.WrapAuthError(core.TypeJWTSessionError, err, "session callback failed")
	}

	cookies, err := sm.encode(opts, store, token)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeJWTSessionError, err, "")
	}
	res.Cookies = append(res.Cookies, cookies...)

	if opts.Events.Session != nil {
		if err := opts.Events.Session(ctx, core.SessionEvent{Session: session, Token: token}); err != nil {
			sm.logger.Error("event handler failed", zap.String("event", "session"), zap.Error(err))
		}
	}
	return session, nil
}

// databaseSession loads the row, deleting it when expired, and extends
// its expiry once UpdateAge has passed since it was last extended.
func (sm *SessionManager) databaseSession(ctx context.Context, opts *core.Options, store *cookie.SessionStore, res *core.Response, value string, isUpdate bool, data map[string]any) (map[string]any, error) {
	if sm.storage == nil {
		return nil, core.NewAuthError(core.TypeMissingAdapterMethods, "adapter does not implement SessionStorage")
	}

	v, err := sm.storage.GetSessionAndUser(ctx, value)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeSessionTokenError, err, "")
	}
	now := timeNow()
	if v != nil && v.Session.Expires.Before(now) {
		if err := sm.storage.DeleteSession(ctx, value); err != nil {
			return nil, core.WrapAuthError(core.TypeSessionTokenError, err, "failed to delete expired session")
		}
		v = nil
	}
	if v == nil {
		res.Cookies = append(res.Cookies, store.Clean()...)
		return nil, nil
	}

	session, user := v.Session, v.User
	expires := session.Expires
	lastExtended := session.Expires.Add(-opts.Session.MaxAge)
	if !now.Before(lastExtended.Add(opts.Session.UpdateAge)) {
		expires = now.Add(opts.Session.MaxAge)
		if _, err := sm.storage.UpdateSession(ctx, &core.Session{SessionToken: value, UserID: session.UserID, Expires: expires}); err != nil {
			return nil, core.WrapAuthError(core.TypeSessionTokenError, err, "failed to extend session")
		}
	}

	params := core.SessionParams{
		Session:    sessionPayload(user.Name, user.Email, user.Image, expires),
		User:       user,
		NewSession: data,
	}
	if isUpdate {
		params.Trigger = core.TriggerUpdate
	}
	payload, err := opts.Callbacks.Session(ctx, params)
	if err != nil {
		return nil, core.WrapAuthError(core.TypeSessionTokenError, err, "session callback failed")
	}

	c := opts.Cookies.SessionToken.New(value)
	c.Options.Expires = expires
	res.Cookies = append(res.Cookies, c)

	if opts.Events.Session != nil {
		if err := opts.Events.Session(ctx, core.SessionEvent{Session: payload}); err != nil {
			sm.logger.Error("event handler failed", zap.String("event", "session"), zap.Error(err))
		}
	}
	return payload, nil
}

// Destroy ends the session and returns the clearing cookies. Failures are
// logged; the cookies are cleared regardless.
func (sm *SessionManager) Destroy(ctx context.Context, opts *core.Options, store *cookie.SessionStore) (core.SignOutEvent, []cookie.Cookie) {
	var event core.SignOutEvent
	value := store.Value()
	if value == "" {
		return event, nil
	}

	if sm.useJWT() {
		token, err := sm.decode(opts, value)
		if err != nil {
			sm.logger.Debug("signing out with undecodable token", zap.Error(err))
		}
		event.Token = token
	} else if sm.storage != nil {
		if v, err := sm.storage.GetSessionAndUser(ctx, value); err == nil && v != nil {
			event.Session = v.Session
		}
		if err := sm.storage.DeleteSession(ctx, value); err != nil {
			sm.logger.Error("failed to delete session", zap.Error(err))
		}
	}
	return event, store.Clean()
}
