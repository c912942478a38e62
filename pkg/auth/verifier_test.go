package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

func signToken(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testKey, "aris", "client")
	require.NoError(t, err)

	token := signToken(t, jwt.MapClaims{
		"sub":      "user-1",
		"username": "nemanja",
		"iss":      "aris",
		"aud":      "client",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}, testKey)

	claims, err := verifier.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "nemanja", claims.UserID)
}

func TestVerifyRejections(t *testing.T) {
	verifier, err := NewJWTVerifier(testKey, "aris", "")
	require.NoError(t, err)

	valid := jwt.MapClaims{
		"sub": "user-1",
		"iss": "aris",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	t.Run("empty token", func(t *testing.T) {
		_, err := verifier.Verify("")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := verifier.Verify(signToken(t, valid, "other-key"))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		expired := jwt.MapClaims{
			"sub": "user-1",
			"iss": "aris",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}
		_, err := verifier.Verify(signToken(t, expired, testKey))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		bad := jwt.MapClaims{
			"sub": "user-1",
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		_, err := verifier.Verify(signToken(t, bad, testKey))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("no subject", func(t *testing.T) {
		bad := jwt.MapClaims{
			"iss": "aris",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		_, err := verifier.Verify(signToken(t, bad, testKey))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestNewJWTVerifierRequiresKey(t *testing.T) {
	_, err := NewJWTVerifier("", "", "")
	assert.Error(t, err)
}
