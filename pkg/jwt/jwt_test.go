package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salt = "authjs.session-token"

func withNow(t *testing.T, now time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = prev })
}

// Requirement: decode(encode(C, s), s) == C modulo iat, exp and jti
func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
	}{
		{name: "empty claims", claims: Claims{}},
		{name: "profile claims", claims: Claims{"name": "test", "email": "test@test.com", "sub": "123"}},
		{name: "nested claims", claims: Claims{"roles": []any{"admin", "user"}, "meta": map[string]any{"a": "b"}}},
		{name: "unicode", claims: Claims{"name": "ユーザー"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			secret := []string{"s"}

			// Act
			token, err := Encode(EncodeParams{Claims: test.claims, Secret: secret, Salt: salt})
			require.NoError(t, err)
			got, err := Decode(DecodeParams{Token: token, Secret: secret, Salt: salt})

			// Assert
			require.NoError(t, err)
			for _, k := range []string{"iat", "exp", "jti"} {
				assert.Contains(t, got, k)
				delete(got, k)
			}
			assert.Equal(t, test.claims, got)
		})
	}
}

func TestEncode_SetsExpiryFromMaxAge(t *testing.T) {
	// Arrange
	now := time.Unix(1_700_000_000, 0)
	withNow(t, now)

	// Act
	token, err := Encode(EncodeParams{Claims: Claims{}, Secret: []string{"s"}, Salt: salt, MaxAge: time.Hour})
	require.NoError(t, err)
	got, err := Decode(DecodeParams{Token: token, Secret: []string{"s"}, Salt: salt})

	// Assert
	require.NoError(t, err)
	assert.EqualValues(t, now.Unix(), got["iat"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), got["exp"])
}

// Requirement: tokens encoded with s2 decode against [s1, s2]; s3 fails with a distinct error
func TestDecode_SecretRotation(t *testing.T) {
	tests := []struct {
		name        string
		encodeWith  string
		decodeWith  []string
		wantErr     error
		wantSubject string
	}{
		{name: "newest secret", encodeWith: "s1", decodeWith: []string{"s1", "s2"}, wantSubject: "u"},
		{name: "rotated out secret still trusted", encodeWith: "s2", decodeWith: []string{"s1", "s2"}, wantSubject: "u"},
		{name: "unknown secret", encodeWith: "s3", decodeWith: []string{"s1", "s2"}, wantErr: ErrNoMatchingSecret},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			token, err := Encode(EncodeParams{Claims: Claims{"sub": "u"}, Secret: []string{test.encodeWith}, Salt: salt})
			require.NoError(t, err)

			// Act
			got, err := Decode(DecodeParams{Token: token, Secret: test.decodeWith, Salt: salt})

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				assert.NotErrorIs(t, err, ErrMalformedToken)
				assert.NotErrorIs(t, err, ErrTokenExpired)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantSubject, got.String("sub"))
		})
	}
}

func TestDecode_SaltIsolation(t *testing.T) {
	// Arrange
	token, err := Encode(EncodeParams{Claims: Claims{"value": "x"}, Secret: []string{"s"}, Salt: "authjs.state"})
	require.NoError(t, err)

	// Act
	_, err = Decode(DecodeParams{Token: token, Secret: []string{"s"}, Salt: "authjs.nonce"})

	// Assert
	assert.ErrorIs(t, err, ErrNoMatchingSecret)
}

func TestDecode_Expiry(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "before expiry", at: issued.Add(59 * time.Second)},
		{name: "within clock tolerance", at: issued.Add(time.Minute + 10*time.Second)},
		{name: "past clock tolerance", at: issued.Add(time.Minute + 30*time.Second), wantErr: ErrTokenExpired},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			withNow(t, issued)
			token, err := Encode(EncodeParams{Claims: Claims{}, Secret: []string{"s"}, Salt: salt, MaxAge: time.Minute})
			require.NoError(t, err)
			withNow(t, test.at)

			// Act
			_, err = Decode(DecodeParams{Token: token, Secret: []string{"s"}, Salt: salt})

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "signed jwt shape", token: "eyJhbGciOiJIUzI1NiJ9.e30.c2ln"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Act
			_, err := Decode(DecodeParams{Token: test.token, Secret: []string{"s"}, Salt: salt})

			// Assert
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestDecode_Tampered(t *testing.T) {
	// Arrange
	token, err := Encode(EncodeParams{Claims: Claims{"sub": "u"}, Secret: []string{"s"}, Salt: salt})
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	require.Len(t, parts, 5)
	tag := []byte(parts[4])
	if tag[0] == 'A' {
		tag[0] = 'B'
	} else {
		tag[0] = 'A'
	}
	parts[4] = string(tag)

	// Act
	_, err = Decode(DecodeParams{Token: strings.Join(parts, "."), Secret: []string{"s"}, Salt: salt})

	// Assert
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEncode_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  EncodeParams
		wantErr error
	}{
		{name: "no secret", params: EncodeParams{Salt: salt}, wantErr: ErrMissingSecret},
		{name: "empty secret", params: EncodeParams{Secret: []string{""}, Salt: salt}, wantErr: ErrMissingSecret},
		{name: "no salt", params: EncodeParams{Secret: []string{"s"}}, wantErr: ErrMissingSalt},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Act
			_, err := Encode(test.params)

			// Assert
			assert.ErrorIs(t, err, test.wantErr)
		})
	}
}
