package auth

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	token, err := Sign("secret", "user-1", "owner@example.com", time.Minute)
	require.NoError(t, err)

	claims, err := NewVerifier("secret").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "owner@example.com", claims.Email)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Sign("secret", "user-1", "", time.Minute)
	require.NoError(t, err)

	_, err = NewVerifier("other").Verify(token)
	assert.True(t, eris.Is(err, ErrInvalidToken))
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, err := Sign("secret", "user-1", "", time.Minute)
	require.NoError(t, err)

	v := NewVerifier("secret")
	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = v.Verify(token)
	assert.True(t, eris.Is(err, ErrInvalidToken))
}

func TestVerifyWithoutSecret(t *testing.T) {
	_, err := NewVerifier("").Verify("x.y.z")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
