package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"sort"

	"github.com/lborres/gatehouse/core"
	"github.com/lborres/gatehouse/pkg/cookie"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
</head>
<body>
<main class="{{.Page}}">
{{template "content" .}}
</main>
</body>
</html>{{end}}`

const signinPage = `{{define "content"}}
{{if .Error}}<p class="error" role="alert">{{.Error}}</p>{{end}}
{{range $p := .Providers}}
<section class="provider" data-provider="{{.ID}}">
{{if eq .Type "oauth" "oidc"}}
<form action="{{.SignInURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<button type="submit">Sign in with {{.Name}}</button>
</form>
{{else if eq .Type "email"}}
<form action="{{.SignInURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
<label for="input-email-for-{{.ID}}">Email</label>
<input id="input-email-for-{{.ID}}" type="email" name="email" placeholder="email@example.com" required>
<button type="submit">Sign in with {{.Name}}</button>
</form>
{{else if eq .Type "credentials"}}
<form action="{{.CallbackURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{$.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{$.CallbackURL}}">
{{range .Fields}}
<label for="input-{{.Name}}-for-{{$p.ID}}">{{.Label}}</label>
<input id="input-{{.Name}}-for-{{$p.ID}}" name="{{.Name}}" type="{{.Type}}" placeholder="{{.Placeholder}}">
{{end}}
<button type="submit">Sign in with {{$p.Name}}</button>
</form>
{{else if eq .Type "webauthn"}}
<p>Sign in with {{.Name}} from a browser that supports passkeys.</p>
{{end}}
</section>
{{end}}
{{end}}`

const signoutPage = `{{define "content"}}
<h1>Signout</h1>
<p>Are you sure you want to sign out?</p>
<form action="{{.SignOutURL}}" method="POST">
<input type="hidden" name="csrfToken" value="{{.CSRFToken}}">
<button type="submit">Sign out</button>
</form>
{{end}}`

const verifyRequestPage = `{{define "content"}}
<h1>Check your email</h1>
<p>A sign in link has been sent to your email address.</p>
<p><a href="{{.Origin}}">{{.Host}}</a></p>
{{end}}`

const errorPage = `{{define "content"}}
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
{{if .SignInURL}}<p><a href="{{.SignInURL}}">Sign in</a></p>{{end}}
{{end}}`

// signinErrors are the messages shown above the sign-in forms.
var signinErrors = map[string]string{
	string(core.TypeOAuthSignInError):      "Try signing in with a different account.",
	string(core.TypeOAuthCallbackError):    "Try signing in with a different account.",
	string(core.TypeOAuthAccountNotLinked): "To confirm your identity, sign in with the same account you used originally.",
	string(core.TypeEmailSignInError):      "The e-mail could not be sent.",
	string(core.TypeCredentialsSignin):     "Sign in failed. Check the details you provided are correct.",
	"SessionRequired":                      "Please sign in to access this page.",
}

const defaultSigninError = "Unable to sign in."

type errorContent struct {
	status  int
	heading string
	message string
	signIn  bool
}

var errorContents = map[core.ErrorType]errorContent{
	core.TypeConfiguration: {http.StatusInternalServerError, "Server error", "There is a problem with the server configuration. Check the server logs for more information.", false},
	core.TypeAccessDenied:  {http.StatusForbidden, "Access Denied", "You do not have permission to sign in.", true},
	core.TypeVerification:  {http.StatusForbidden, "Unable to sign in", "The sign in link is no longer valid. It may have been used already or it may have expired.", true},
}

var defaultErrorContent = errorContent{http.StatusOK, "Error", "An unexpected error occurred.", true}

type pageRenderer struct {
	signin        *template.Template
	signout       *template.Template
	verifyRequest *template.Template
	error         *template.Template
}

func newPageRenderer() *pageRenderer {
	parse := func(content string) *template.Template {
		return template.Must(template.Must(template.New("layout").Parse(layout)).Parse(content))
	}
	return &pageRenderer{
		signin:        parse(signinPage),
		signout:       parse(signoutPage),
		verifyRequest: parse(verifyRequestPage),
		error:         parse(errorPage),
	}
}

func render(t *template.Template, status int, title, page string, data map[string]any) (*core.Response, error) {
	data["Title"] = title
	data["Page"] = page
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("failed to render %s page: %w", page, err)
	}
	res := core.NewResponse()
	res.HTML(status, buf.String())
	return res, nil
}

type providerView struct {
	ID          string
	Name        string
	Type        core.ProviderType
	SignInURL   string
	CallbackURL string
	Fields      []fieldView
}

type fieldView struct {
	Name string
	core.CredentialField
}

func providerViews(opts *core.Options) []providerView {
	views := make([]providerView, 0, len(opts.Providers))
	for _, p := range opts.Providers {
		v := providerView{
			ID:          p.ProviderID(),
			Name:        p.ProviderName(),
			Type:        p.ProviderType(),
			SignInURL:   opts.SignInURL(p.ProviderID()),
			CallbackURL: opts.CallbackURLFor(p.ProviderID()),
		}
		if c, ok := p.(*core.CredentialsProvider); ok {
			names := make([]string, 0, len(c.Credentials))
			for name := range c.Credentials {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				f := c.Credentials[name]
				if f.Label == "" {
					f.Label = name
				}
				if f.Type == "" {
					f.Type = "text"
				}
				v.Fields = append(v.Fields, fieldView{Name: name, CredentialField: f})
			}
		}
		views = append(views, v)
	}
	return views
}

func redirectResponse(to string) *core.Response {
	res := core.NewResponse()
	res.Redirect = to
	return res
}

func (r *pageRenderer) signinPage(opts *core.Options, errType, code string) (*core.Response, error) {
	if opts.Pages.SignIn != "" {
		q := url.Values{}
		q.Set("callbackUrl", opts.CallbackURL)
		if errType != "" {
			q.Set("error", errType)
		}
		if code != "" {
			q.Set("code", code)
		}
		return redirectResponse(withQuery(pageURL(opts, opts.Pages.SignIn, core.ActionSignIn), q.Encode())), nil
	}

	var message string
	if errType != "" {
		message = defaultSigninError
		if m, ok := signinErrors[errType]; ok {
			message = m
		}
	}

	return render(r.signin, http.StatusOK, "Sign In", "signin", map[string]any{
		"Error":       message,
		"Providers":   providerViews(opts),
		"CSRFToken":   opts.CSRFToken,
		"CallbackURL": opts.CallbackURL,
	})
}

func (r *pageRenderer) signoutPage(opts *core.Options) (*core.Response, error) {
	if opts.Pages.SignOut != "" {
		return redirectResponse(pageURL(opts, opts.Pages.SignOut, core.ActionSignOut)), nil
	}
	return render(r.signout, http.StatusOK, "Sign Out", "signout", map[string]any{
		"SignOutURL": opts.BaseURL() + "/signout",
		"CSRFToken":  opts.CSRFToken,
	})
}

func (r *pageRenderer) verifyRequestPage(opts *core.Options, rawQuery string) (*core.Response, error) {
	if opts.Pages.VerifyRequest != "" {
		return redirectResponse(withQuery(pageURL(opts, opts.Pages.VerifyRequest, core.ActionVerifyRequest), rawQuery)), nil
	}
	return render(r.verifyRequest, http.StatusOK, "Verify Request", "verify-request", map[string]any{
		"Origin": opts.Origin(),
		"Host":   opts.URL.Host,
	})
}

// errorPage renders the error page. Unknown types get the generic text.
func (r *pageRenderer) errorPage(opts *core.Options, errType string) *core.Response {
	if opts.Pages.Error != "" {
		return redirectResponse(withQuery(pageURL(opts, opts.Pages.Error, core.ActionError), "error="+url.QueryEscape(errType)))
	}

	content, ok := errorContents[core.ErrorType(errType)]
	if !ok {
		content = defaultErrorContent
	}
	data := map[string]any{
		"Heading": content.heading,
		"Message": content.message,
	}
	if content.signIn {
		data["SignInURL"] = opts.BaseURL() + "/signin"
	}
	res, err := render(r.error, content.status, "Error", "error", data)
	if err != nil {
		res = core.NewResponse()
		res.Status = content.status
		res.Headers.Set("Content-Type", "text/plain; charset=utf-8")
		res.Body = []byte(content.heading)
	}
	return res
}

// csrf returns the token for the double submit check.
func (h *Handler) csrf(opts *core.Options) *core.Response {
	res := core.NewResponse()
	if h.cfg.SkipCSRFCheck {
		_ = res.JSON(http.StatusNotFound, map[string]string{"message": "CSRF checks are disabled."})
		res.Cookies = append(res.Cookies, opts.Cookies.CSRFToken.Clear())
		return res
	}
	_ = res.JSON(http.StatusOK, map[string]string{"csrfToken": opts.CSRFToken})
	res.Headers.Set("Cache-Control", "private, no-cache, no-store")
	res.Headers.Set("Expires", "0")
	res.Headers.Set("Pragma", "no-cache")
	return res
}

type providerInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        core.ProviderType `json:"type"`
	SignInURL   string            `json:"signinUrl"`
	CallbackURL string            `json:"callbackUrl"`
}

func (h *Handler) providers(opts *core.Options) (*core.Response, error) {
	out := make(map[string]providerInfo, len(opts.Providers))
	for _, p := range opts.Providers {
		out[p.ProviderID()] = providerInfo{
			ID:          p.ProviderID(),
			Name:        p.ProviderName(),
			Type:        p.ProviderType(),
			SignInURL:   opts.SignInURL(p.ProviderID()),
			CallbackURL: opts.CallbackURLFor(p.ProviderID()),
		}
	}
	res := core.NewResponse()
	if err := res.JSON(http.StatusOK, out); err != nil {
		return nil, err
	}
	return res, nil
}

// signOut ends the session and redirects to the callback URL.
func (h *Handler) signOut(ctx context.Context, opts *core.Options, store *cookie.SessionStore) *core.Response {
	event, cookies := h.sessions.Destroy(ctx, opts, store)
	if cookies != nil && h.cfg.Events.SignOut != nil {
		h.emit("signOut", func() error { return h.cfg.Events.SignOut(ctx, event) })
	}

	res := core.NewResponse()
	res.Cookies = cookies
	res.Redirect = opts.CallbackURL
	return res
}
