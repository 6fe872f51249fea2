package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/lborres/gatehouse/pkg/cookie"
)

type Action string

const (
	ActionProviders       Action = "providers"
	ActionSession         Action = "session"
	ActionCSRF            Action = "csrf"
	ActionSignIn          Action = "signin"
	ActionSignOut         Action = "signout"
	ActionCallback        Action = "callback"
	ActionVerifyRequest   Action = "verify-request"
	ActionError           Action = "error"
	ActionWebAuthnOptions Action = "webauthn-options"
)

var actions = map[Action]bool{
	ActionProviders: true, ActionSession: true, ActionCSRF: true, ActionSignIn: true,
	ActionSignOut: true, ActionCallback: true, ActionVerifyRequest: true, ActionError: true,
	ActionWebAuthnOptions: true,
}

// ParseAction splits {basePath}/{action}[/{providerId}].
func ParseAction(path, basePath string) (Action, string, error) {
	basePath = strings.TrimSuffix(basePath, "/")
	rest, ok := strings.CutPrefix(path, basePath)
	if !ok || rest == "" {
		return "", "", NewAuthError(TypeUnknownAction, fmt.Sprintf("cannot parse action at %s", path))
	}

	var parts []string
	for _, p := range strings.Split(strings.TrimPrefix(rest, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) != 1 && len(parts) != 2 {
		return "", "", NewAuthError(TypeUnknownAction, fmt.Sprintf("cannot parse action at %s", path))
	}

	action := Action(parts[0])
	if !actions[action] {
		return "", "", NewAuthError(TypeUnknownAction, fmt.Sprintf("unsupported action %q", action))
	}

	var providerID string
	if len(parts) == 2 {
		switch action {
		case ActionSignIn, ActionCallback, ActionWebAuthnOptions:
			providerID = parts[1]
		default:
			return "", "", NewAuthError(TypeUnknownAction, fmt.Sprintf("action %q takes no provider", action))
		}
	}
	return action, providerID, nil
}

// Request is the framework independent view of an incoming request.
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Cookies map[string]string
	// Body holds form fields, or the top-level fields of a JSON body.
	// Non-string JSON values are kept in their JSON encoding.
	Body map[string]string
}

func (r *Request) Query() url.Values {
	if r.URL == nil {
		return url.Values{}
	}
	return r.URL.Query()
}

// Param reads a field from the body, falling back to the query string.
func (r *Request) Param(key string) string {
	if v, ok := r.Body[key]; ok {
		return v
	}
	return r.Query().Get(key)
}

func (r *Request) IsPost() bool {
	return r.Method == http.MethodPost
}

// Origin is scheme://host of the request URL.
func (r *Request) Origin() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Scheme + "://" + r.URL.Host
}

const maxBodySize = 1 << 20

// Scheme is the scheme r arrived on, before forwarding headers.
func Scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// FromHTTP converts a net/http request.
func FromHTTP(r *http.Request) (*Request, error) {
	var body []byte
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		body = raw
	}
	return NewRequest(r.Method, Scheme(r), r.Host, r.URL.RequestURI(), r.Header, body)
}

// NewRequest builds a Request from the parts every framework exposes.
// X-Forwarded-Proto and X-Forwarded-Host override scheme and host.
func NewRequest(method, scheme, host, requestURI string, header http.Header, body []byte) (*Request, error) {
	u, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URI: %w", err)
	}
	u.Scheme, u.Host = scheme, host
	if proto := header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	if fwd := header.Get("X-Forwarded-Host"); fwd != "" {
		u.Host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	req := &Request{
		Method:  method,
		URL:     u,
		Headers: header.Clone(),
		Cookies: cookie.Parse(header.Get("Cookie")),
		Body:    map[string]string{},
	}
	if len(body) == 0 || method == http.MethodGet || method == http.MethodHead {
		return req, nil
	}
	fields, err := ParseBody(header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}
	req.Body = fields
	return req, nil
}

// ParseBody decodes a form or JSON request body.
func ParseBody(contentType string, raw []byte) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/json":
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		for k, v := range fields {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				out[k] = s
				continue
			}
			out[k] = string(v)
		}
	default:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode form body: %w", err)
		}
		for k := range values {
			out[k] = values.Get(k)
		}
	}
	return out, nil
}

// Response is what every action produces. Framework glue turns it into a
// native response.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Redirect string
	Cookies  []cookie.Cookie
}

func NewResponse() *Response {
	return &Response{Status: http.StatusOK, Headers: http.Header{}}
}

// JSON sets a JSON body.
func (r *Response) JSON(status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	r.Status = status
	r.Body = b
	r.Headers.Set("Content-Type", "application/json")
	return nil
}

func (r *Response) HTML(status int, html string) {
	r.Status = status
	r.Body = []byte(html)
	r.Headers.Set("Content-Type", "text/html; charset=utf-8")
}

// SetCookieHeaders returns one Set-Cookie value per cookie. They must be
// sent as separate headers, never joined.
func (r *Response) SetCookieHeaders() []string {
	out := make([]string, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		out = append(out, c.String())
	}
	return out
}

// Write sends the response through a net/http ResponseWriter.
func (r *Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range r.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, c := range r.SetCookieHeaders() {
		h.Add("Set-Cookie", c)
	}

	if r.Redirect != "" {
		h.Set("Location", r.Redirect)
	}
	w.WriteHeader(r.StatusCode())
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// StatusCode is the status to send: 302 for a redirect unless a redirect
// status was set explicitly.
func (r *Response) StatusCode() int {
	status := r.Status
	if r.Redirect != "" && (status == 0 || status == http.StatusOK) {
		return http.StatusFound
	}
	if status == 0 {
		return http.StatusOK
	}
	return status
}

// GetSession runs the session action through h on behalf of req, for
// middleware guarding application routes. The session is nil when req is
// signed out. Cookies on the returned response refresh the session and
// must be forwarded to the client.
func GetSession(ctx context.Context, h Handler, basePath string, req *Request) (map[string]any, *Response, error) {
	u := *req.URL
	u.Path = strings.TrimSuffix(basePath, "/") + "/" + string(ActionSession)
	u.RawQuery = ""

	res := h.Handle(ctx, &Request{
		Method:  http.MethodGet,
		URL:     &u,
		Headers: req.Headers,
		Cookies: req.Cookies,
		Body:    map[string]string{},
	})
	if res.StatusCode() != http.StatusOK {
		return nil, res, fmt.Errorf("session lookup failed with status %d", res.StatusCode())
	}
	var session map[string]any
	if err := json.Unmarshal(res.Body, &session); err != nil {
		return nil, res, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, res, nil
}
