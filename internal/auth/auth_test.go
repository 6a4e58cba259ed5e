package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret")

	token, err := a.IssueToken(42, time.Minute)
	require.NoError(t, err)

	userID, err := a.UserIDFromToken(token)
	require.NoError(t, err)
	require.Equal(t, 42, userID)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := NewAuthenticator("secret-a").IssueToken(1, time.Minute)
	require.NoError(t, err)

	_, err = NewAuthenticator("secret-b").UserIDFromToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.IssueToken(1, -time.Minute)
	require.NoError(t, err)

	_, err = a.UserIDFromToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageTokenRejected(t *testing.T) {
	_, err := NewAuthenticator("test-secret").UserIDFromToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
