package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.IssueToken("user-1", time.Minute)
	require.NoError(t, err)

	userID, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	userID, err = v.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestValidateTokenLegacyIDClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "legacy"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	userID, err := NewTokenVerifier("secret").ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "legacy", userID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenVerifier("one").IssueToken("user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewTokenVerifier("two").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.IssueToken("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsMissingSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = NewTokenVerifier("secret").ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsSeparatorInUserID(t *testing.T) {
	v := NewTokenVerifier("secret")
	token, err := v.IssueToken("x_y", time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
