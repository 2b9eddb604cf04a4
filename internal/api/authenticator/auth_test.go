package authenticator

import (
	"context"
	"testing"
	"time"

	"github.com/orgboard/orgsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(&config.Config{
		JWT_SECRET:   "test-secret",
		STATE_SECRET: "state-secret",
	})
	require.NoError(t, err)
	return a
}

func TestTokenRoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.GenerateToken("u1", "chair@club.org", "Alex", "chair")
	require.NoError(t, err)

	claims, err := a.VerifyAccessToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "chair@club.org", claims.Email)
	assert.Equal(t, "chair", claims.Role)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.GenerateToken("u1", "x@y.z", "X", "member")
	require.NoError(t, err)

	other, err := New(&config.Config{JWT_SECRET: "different"})
	require.NoError(t, err)

	_, err = other.VerifyAccessToken(context.Background(), token)
	assert.Error(t, err)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	a, err := New(&config.Config{})
	require.NoError(t, err)
	assert.False(t, a.AuthEnabled())
	assert.False(t, a.OIDCEnabled())
}

func TestSignedStateRoundTrip(t *testing.T) {
	a := newTestAuthenticator(t)

	state := OAuthState{
		CSRF:      "nonce",
		Redirect:  "http://localhost:3000",
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(5 * time.Minute).Unix(),
	}

	encoded, err := a.GetSignedState(state)
	require.NoError(t, err)

	decoded, err := a.VerifySignedState(encoded)
	require.NoError(t, err)
	assert.Equal(t, state, *decoded)

	_, err = a.VerifySignedState(encoded + "tampered")
	assert.Error(t, err)
}

func TestSignedStateExpires(t *testing.T) {
	a := newTestAuthenticator(t)

	encoded, err := a.GetSignedState(OAuthState{
		CSRF:      "nonce",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = a.VerifySignedState(encoded)
	assert.Error(t, err)
}
