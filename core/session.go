package core

import (
	"time"

	"github.com/lborres/gatehouse/pkg/crypto"
	"github.com/lborres/gatehouse/pkg/jwt"
)

type SessionStrategy string

const (
	StrategyJWT      SessionStrategy = "jwt"
	StrategyDatabase SessionStrategy = "database"
)

type SessionConfig struct {
	// Strategy defaults to database when an adapter is configured, jwt otherwise.
	Strategy SessionStrategy
	MaxAge   time.Duration
	// UpdateAge throttles how often a database session's expiry is extended.
	UpdateAge time.Duration

	GenerateSessionToken func() (string, error)
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge:               30 * 24 * time.Hour,
		UpdateAge:            24 * time.Hour,
		GenerateSessionToken: generateSessionToken,
	}
}

func generateSessionToken() (string, error) {
	return crypto.RandomString(crypto.DefaultTokenLength)
}

type JWTConfig struct {
	// MaxAge defaults to the session MaxAge.
	MaxAge time.Duration
	Encode jwt.Encoder
	Decode jwt.Decoder
}
