package core

import (
	"errors"
	"fmt"
)

// ErrorType names a failure class. It is what a client sees in the error
// query parameter.
type ErrorType string

const (
	TypeAccessDenied              ErrorType = "AccessDenied"
	TypeAccountNotLinked          ErrorType = "AccountNotLinked"
	TypeAdapterError              ErrorType = "AdapterError"
	TypeCallbackRouteError        ErrorType = "CallbackRouteError"
	TypeConfiguration             ErrorType = "Configuration"
	TypeCredentialsSignin         ErrorType = "CredentialsSignin"
	TypeEmailSignInError          ErrorType = "EmailSignInError"
	TypeEventError                ErrorType = "EventError"
	TypeInvalidCallbackURL        ErrorType = "InvalidCallbackUrl"
	TypeInvalidCheck              ErrorType = "InvalidCheck"
	TypeInvalidEndpoints          ErrorType = "InvalidEndpoints"
	TypeInvalidProvider           ErrorType = "InvalidProvider"
	TypeJWTSessionError           ErrorType = "JWTSessionError"
	TypeMissingAdapter            ErrorType = "MissingAdapter"
	TypeMissingAdapterMethods     ErrorType = "MissingAdapterMethods"
	TypeMissingAuthorize          ErrorType = "MissingAuthorize"
	TypeMissingCSRF               ErrorType = "MissingCSRF"
	TypeMissingSecret             ErrorType = "MissingSecret"
	TypeOAuthAccountNotLinked     ErrorType = "OAuthAccountNotLinked"
	TypeOAuthCallbackError        ErrorType = "OAuthCallbackError"
	TypeOAuthProfileParseError    ErrorType = "OAuthProfileParseError"
	TypeOAuthSignInError          ErrorType = "OAuthSignInError"
	TypeSessionTokenError         ErrorType = "SessionTokenError"
	TypeSignInError               ErrorType = "SignInError"
	TypeSignOutError              ErrorType = "SignOutError"
	TypeUnknownAction             ErrorType = "UnknownAction"
	TypeUnsupportedStrategy       ErrorType = "UnsupportedStrategy"
	TypeUntrustedHost             ErrorType = "UntrustedHost"
	TypeVerification              ErrorType = "Verification"
	TypeWebAuthnVerificationError ErrorType = "WebAuthnVerificationError"
)

// ErrorKind decides which page an error is rendered on.
type ErrorKind string

const (
	KindSignIn ErrorKind = "signIn"
	KindError  ErrorKind = "error"
)

var signInKinds = map[ErrorType]bool{
	TypeAccessDenied:          true,
	TypeCredentialsSignin:     true,
	TypeEmailSignInError:      true,
	TypeMissingCSRF:           true,
	TypeOAuthAccountNotLinked: true,
	TypeOAuthCallbackError:    true,
	TypeOAuthSignInError:      true,
	TypeSignInError:           true,
}

var clientSafe = map[ErrorType]bool{
	TypeCredentialsSignin:         true,
	TypeOAuthAccountNotLinked:     true,
	TypeOAuthCallbackError:        true,
	TypeAccessDenied:              true,
	TypeVerification:              true,
	TypeMissingCSRF:               true,
	TypeAccountNotLinked:          true,
	TypeWebAuthnVerificationError: true,
	TypeEmailSignInError:          true,
	TypeOAuthSignInError:          true,
	TypeSignInError:               true,
}

// AuthError is the single error type returned by the engine. Two AuthErrors
// match under errors.Is when their types are equal.
type AuthError struct {
	Type    ErrorType
	Message string
	// Code is the sub-code shown to the client for CredentialsSignin.
	Code string
	Err  error
}

func NewAuthError(t ErrorType, message string) *AuthError {
	return &AuthError{Type: t, Message: message}
}

func WrapAuthError(t ErrorType, err error, message string) *AuthError {
	return &AuthError{Type: t, Message: message, Err: err}
}

func (e *AuthError) Error() string {
	msg := string(e.Type)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

func (e *AuthError) Kind() ErrorKind {
	if signInKinds[e.Type] {
		return KindSignIn
	}
	return KindError
}

// ClientSafe reports whether the type may be shown to the client as is.
// Every other type is reported as Configuration.
func (e *AuthError) ClientSafe() bool {
	return clientSafe[e.Type]
}

// CredentialsSignin builds the error a credentials Authorize function
// returns to reject a sign-in with a custom code.
func CredentialsSignin(code string) *AuthError {
	if code == "" {
		code = "credentials"
	}
	return &AuthError{Type: TypeCredentialsSignin, Message: "credentials sign in failed", Code: code}
}

// AsAuthError returns err as an AuthError, wrapping foreign errors as
// Configuration.
func AsAuthError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return WrapAuthError(TypeConfiguration, err, "")
}

// Sentinels for errors.Is.
var (
	ErrConfiguration         = &AuthError{Type: TypeConfiguration}
	ErrUntrustedHost         = &AuthError{Type: TypeUntrustedHost}
	ErrMissingSecret         = &AuthError{Type: TypeMissingSecret}
	ErrInvalidCallbackURL    = &AuthError{Type: TypeInvalidCallbackURL}
	ErrInvalidEndpoints      = &AuthError{Type: TypeInvalidEndpoints}
	ErrUnsupportedStrategy   = &AuthError{Type: TypeUnsupportedStrategy}
	ErrMissingAuthorize      = &AuthError{Type: TypeMissingAuthorize}
	ErrMissingAdapter        = &AuthError{Type: TypeMissingAdapter}
	ErrMissingAdapterMethods = &AuthError{Type: TypeMissingAdapterMethods}
	ErrUnknownAction         = &AuthError{Type: TypeUnknownAction}
	ErrInvalidProvider       = &AuthError{Type: TypeInvalidProvider}
)

var (
	ErrInvalidCheck          = &AuthError{Type: TypeInvalidCheck}
	ErrMissingCSRF           = &AuthError{Type: TypeMissingCSRF}
	ErrVerification          = &AuthError{Type: TypeVerification}
	ErrAccessDenied          = &AuthError{Type: TypeAccessDenied}
	ErrCredentialsSignin     = &AuthError{Type: TypeCredentialsSignin}
	ErrOAuthCallback         = &AuthError{Type: TypeOAuthCallbackError}
	ErrOAuthProfileParse     = &AuthError{Type: TypeOAuthProfileParseError}
	ErrOAuthAccountNotLinked = &AuthError{Type: TypeOAuthAccountNotLinked}
	ErrAccountNotLinked      = &AuthError{Type: TypeAccountNotLinked}
	ErrWebAuthnVerify        = &AuthError{Type: TypeWebAuthnVerificationError}
	ErrCallbackRoute         = &AuthError{Type: TypeCallbackRouteError}
	ErrSessionToken          = &AuthError{Type: TypeSessionTokenError}
	ErrAdapter               = &AuthError{Type: TypeAdapterError}
)

// ErrCacheNotFound is returned by Cache.Get on a miss.
var ErrCacheNotFound = errors.New("session not found in cache")
