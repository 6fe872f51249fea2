// Package jwt encodes and decodes the encrypted tokens used for stateless
// sessions and for the short-lived check cookies.
//
// Tokens are JWEs using direct key agreement and A256CBC-HS512. The content
// encryption key is derived from the configured secret with HKDF-SHA256, using
// the salt (the cookie name) as context, so a token minted for one cookie can
// never be decrypted as another.
package jwt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultMaxAge is 30 days.
	DefaultMaxAge = 30 * 24 * time.Hour

	clockTolerance = 15 * time.Second
	keyLength      = 64 // A256CBC-HS512 needs a 512 bit key
)

var (
	ErrMissingSecret    = errors.New("jwt: secret is required")
	ErrMissingSalt      = errors.New("jwt: salt is required")
	ErrMalformedToken   = errors.New("jwt: malformed token")
	ErrNoMatchingSecret = errors.New("jwt: no matching decryption secret")
	ErrInvalidToken     = errors.New("jwt: token could not be decrypted")
	ErrTokenExpired     = errors.New("jwt: token expired")
)

var timeNow = time.Now

// Claims is the payload of a token.
type Claims map[string]any

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(key string) string {
	s, _ := c[key].(string)
	return s
}

type EncodeParams struct {
	Claims Claims
	// Secret lists trusted secrets, newest first. Only the first encrypts.
	Secret []string
	// Salt is the context string, normally the cookie name.
	Salt   string
	MaxAge time.Duration
}

type DecodeParams struct {
	Token  string
	Secret []string
	Salt   string
}

// Encoder and Decoder allow the session token format to be replaced.
type (
	Encoder func(EncodeParams) (string, error)
	Decoder func(DecodeParams) (Claims, error)
)

// Encode encrypts the claims, adding iat, exp and jti.
func Encode(p EncodeParams) (string, error) {
	if len(p.Secret) == 0 || p.Secret[0] == "" {
		return "", ErrMissingSecret
	}
	if p.Salt == "" {
		return "", ErrMissingSalt
	}

	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	key, err := deriveKey(p.Secret[0], p.Salt)
	if err != nil {
		return "", err
	}

	now := timeNow()
	claims := make(Claims, len(p.Claims)+3)
	for k, v := range p.Claims {
		claims[k] = v
	}
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(maxAge).Unix()
	claims["jti"] = uuid.NewString()

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256CBC_HS512,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key, KeyID: thumbprint(key)},
		(&jose.EncrypterOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	object, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}

	return object.CompactSerialize()
}

// Decode decrypts a token produced by Encode. Each secret is tried in order;
// when the token carries a key id only the secret deriving that key is used.
func Decode(p DecodeParams) (Claims, error) {
	if p.Token == "" {
		return nil, ErrMalformedToken
	}
	if len(p.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if p.Salt == "" {
		return nil, ErrMissingSalt
	}

	object, err := jose.ParseEncrypted(p.Token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256CBC_HS512},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	kid := object.Header.KeyID
	var (
		payload []byte
		matched bool
	)
	for _, secret := range p.Secret {
		key, err := deriveKey(secret, p.Salt)
		if err != nil {
			return nil, err
		}
		if kid != "" && kid != thumbprint(key) {
			continue
		}
		matched = true

		plain, err := object.Decrypt(key)
		if err == nil {
			payload = plain
			break
		}
	}

	switch {
	case payload != nil:
	case kid != "" && matched:
		return nil, ErrInvalidToken
	default:
		return nil, ErrNoMatchingSecret
	}

	var registered josejwt.Claims
	if err := json.Unmarshal(payload, &registered); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if err := registered.ValidateWithLeeway(josejwt.Expected{Time: timeNow()}, clockTolerance); err != nil {
		if errors.Is(err, josejwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims := Claims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return claims, nil
}

func deriveKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	info := fmt.Sprintf("Gatehouse Generated Encryption Key (%s)", salt)
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

// thumbprint is the RFC 7638 thumbprint of the symmetric key as an oct JWK.
func thumbprint(key []byte) string {
	input := fmt.Sprintf(`{"k":"%s","kty":"oct"}`, base64.RawURLEncoding.EncodeToString(key))
	sum := sha256.Sum256([]byte(input))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
