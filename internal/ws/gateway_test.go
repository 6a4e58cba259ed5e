package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/realtime"
)

type stubDirectory struct{}

func (stubDirectory) Members(ctx context.Context, roomID int) ([]int, error) {
	return nil, nil
}

func (stubDirectory) RoomsForUser(ctx context.Context, userID int) ([]int, error) {
	return nil, nil
}

func newGatewayFixture(t *testing.T) (*Gateway, *auth.Authenticator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authenticator := auth.NewAuthenticator("test-secret")
	presence := realtime.NewPresenceTracker(time.Minute, time.Minute, nil)
	t.Cleanup(presence.Close)

	gateway := NewGateway(
		realtime.NewConnectionRegistry(),
		presence,
		nil,
		realtime.NewMembershipCache(stubDirectory{}),
		NewConnTable(),
		authenticator,
	)
	return gateway, authenticator
}

func handshake(gateway *Gateway, header string) *httptest.ResponseRecorder {
	r := gin.New()
	r.GET("/ws", gateway.Handle)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// Both header forms carry a valid identity past auth: the handshake then
// fails on the missing websocket upgrade, never on the token.
func TestHandshakeTokenForms(t *testing.T) {
	gateway, authenticator := newGatewayFixture(t)

	token, err := authenticator.IssueToken(7, time.Minute)
	require.NoError(t, err)

	rec := handshake(gateway, "Bearer "+token)
	require.NotEqual(t, http.StatusUnauthorized, rec.Code)

	// A raw token without the Bearer prefix must not lose its first bytes.
	rec = handshake(gateway, token)
	require.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	gateway, _ := newGatewayFixture(t)

	rec := handshake(gateway, "Bearer not-a-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = handshake(gateway, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
