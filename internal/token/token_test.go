package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndVerify(t *testing.T) {
	signed, err := BuildJWT("user-1", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	userCode, err := GetUserCode(signed, "secret")
	require.NoError(t, err)
	require.Equal(t, "user-1", userCode)
}

func TestWrongSecretRejected(t *testing.T) {
	signed, err := BuildJWT("user-1", "secret")
	require.NoError(t, err)

	_, err = GetUserCode(signed, "other-secret")
	require.Error(t, err)
}

func TestGarbageRejected(t *testing.T) {
	_, err := GetUserCode("not-a-token", "secret")
	require.Error(t, err)
}
