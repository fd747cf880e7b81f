package auth_test

import (
	"testing"
	"time"

	"github.com/d9705996/statusbridge/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-bytes-long"

func TestIssueAndParseAccessToken(t *testing.T) {
	token, err := auth.IssueAccessToken("ops", []string{auth.ScopeRead}, testSecret, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ParseAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.Issuer, claims.Issuer)
	assert.True(t, claims.HasScope(auth.ScopeRead))
	assert.False(t, claims.HasScope("bridge:write"))
}

func TestClaims_WildcardScope(t *testing.T) {
	c := &auth.Claims{Scopes: []string{"*"}}
	assert.True(t, c.HasScope(auth.ScopeRead))
	assert.False(t, (&auth.Claims{}).HasScope(auth.ScopeRead))
}

func TestIssueAccessToken_EmptySecret(t *testing.T) {
	_, err := auth.IssueAccessToken("ops", nil, "", time.Minute)
	require.Error(t, err)
}

func TestParseAccessToken_ExpiredToken(t *testing.T) {
	// Issue a token with a -1 minute TTL so it is already expired.
	token, err := auth.IssueAccessToken("ops", []string{auth.ScopeRead}, testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(token, testSecret)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	token, err := auth.IssueAccessToken("ops", nil, testSecret, 15*time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(token, "wrong-secret")
	require.Error(t, err)
}

func TestParseAccessToken_ForeignIssuer(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(token, testSecret)
	require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestParseAccessToken_Garbage(t *testing.T) {
	_, err := auth.ParseAccessToken("not.a.jwt", testSecret)
	require.Error(t, err)
}
