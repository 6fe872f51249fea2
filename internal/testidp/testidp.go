// Package testidp runs a small OpenID provider for tests.
package testidp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

const keyID = "test-key"

type Server struct {
	*httptest.Server

	ClientID     string
	ClientSecret string
	key          *rsa.PrivateKey

	mu sync.Mutex
	// SupportS256 advertises S256 instead of plain in
	// code_challenge_methods_supported.
	SupportS256 bool
	// Nonce is put in issued ID tokens.
	Nonce string
	// Challenge, when set, is checked against the posted code_verifier.
	Challenge string
	Subject   string
	Email     string
	Name      string
	// TokenError makes the token endpoint answer with this OAuth error.
	TokenError string

	TokenRequests []url.Values
	TokenAuth     []string
	UserinfoCalls int
}

func New(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	s := &Server{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		key:          key,
		SupportS256:  true,
		Subject:      "user-123",
		Email:        "Ada@Example.com",
		Name:         "Ada Lovelace",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.discovery)
	mux.HandleFunc("/jwks", s.jwks)
	mux.HandleFunc("/token", s.token)
	mux.HandleFunc("/userinfo", s.userinfo)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Issuer() string { return s.URL }

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"userinfo_endpoint":                     s.URL + "/userinfo",
		"jwks_uri":                              s.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	doc["code_challenge_methods_supported"] = []string{"plain"}
	if s.SupportS256 {
		doc["code_challenge_methods_supported"] = []string{"S256"}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.TokenRequests = append(s.TokenRequests, r.PostForm)
	s.TokenAuth = append(s.TokenAuth, r.Header.Get("Authorization"))

	if s.TokenError != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": s.TokenError})
		return
	}
	if s.Challenge != "" && oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != s.Challenge {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	idToken, err := s.SignIDToken(map[string]any{"nonce": s.Nonce})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "at-" + r.PostForm.Get("code"),
		"refresh_token": "rt",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "openid profile email",
		"id_token":      idToken,
	})
}

func (s *Server) userinfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer at-") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.UserinfoCalls++
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":     s.Subject,
		"name":    s.Name,
		"email":   s.Email,
		"picture": "https://example.com/ada.png",
	})
}

// SignIDToken issues an ID token for the configured subject. Empty string
// values in extra are skipped.
func (s *Server) SignIDToken(extra map[string]any) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: s.key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := map[string]any{
		"iss":     s.URL,
		"aud":     s.ClientID,
		"sub":     s.Subject,
		"email":   s.Email,
		"name":    s.Name,
		"picture": "https://example.com/ada.png",
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		claims[k] = v
	}
	return josejwt.Signed(signer).Claims(claims).Serialize()
}

func (s *Server) Configure(f func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func (s *Server) LastTokenRequest() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.TokenRequests) == 0 {
		return nil
	}
	return s.TokenRequests[len(s.TokenRequests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
