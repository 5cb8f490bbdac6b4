package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	token, err := generateToken("secret", "alice", true, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := parseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.True(t, claims.Admin)
}

func TestToken_WrongSecret(t *testing.T) {
	token, err := generateToken("secret", "alice", false, time.Hour)
	require.NoError(t, err)

	_, err = parseToken("other-secret", token)
	assert.Error(t, err)
}

func TestToken_Expired(t *testing.T) {
	token, err := generateToken("secret", "alice", false, -time.Minute)
	require.NoError(t, err)

	_, err = parseToken("secret", token)
	assert.Error(t, err)
}

func TestToken_Garbage(t *testing.T) {
	_, err := parseToken("secret", "not-a-token")
	assert.Error(t, err)
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := hashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)

	assert.True(t, checkPassword(hash, "hunter2"))
	assert.False(t, checkPassword(hash, "hunter3"))
}
