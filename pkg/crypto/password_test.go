package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastArgon2 keeps the suite quick; the format is identical to NewArgon2.
func fastArgon2() *Argon2 {
	return &Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2_HashFormat(t *testing.T) {
	// Arrange
	a := fastArgon2()

	// Act
	hash, err := a.Hash("testPassword123")

	// Assert
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
	assert.Len(t, strings.Split(hash, "$"), 6)
}

func TestArgon2_Verify(t *testing.T) {
	a := fastArgon2()
	hash, err := a.Hash("correct horse")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  error
	}{
		{name: "correct password", password: "correct horse", hash: hash, want: true},
		{name: "wrong password", password: "battery staple", hash: hash, want: false},
		{name: "wrong algorithm", password: "x", hash: "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", wantErr: ErrUnsupportedAlgorithm},
		{name: "too few parts", password: "x", hash: "$argon2id$v=19$m=1,t=1,p=1", wantErr: ErrInvalidHashFormat},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Act
			ok, err := a.Verify(test.password, test.hash)

			// Assert
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, ok)
		})
	}
}

func TestArgon2_Verify_UsesStoredParameters(t *testing.T) {
	// Arrange
	hash, err := fastArgon2().Hash("pw")
	require.NoError(t, err)

	// Act
	ok, err := NewArgon2().Verify("pw", hash)

	// Assert
	require.NoError(t, err)
	assert.True(t, ok)
}
