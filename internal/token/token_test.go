package token

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePublisherToken(t *testing.T) {
	a, err := GeneratePublisherToken()
	require.NoError(t, err)
	b, err := GeneratePublisherToken()
	require.NoError(t, err)

	assert.Len(t, a, PublisherTokenLength)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}

func TestSignAndVerifyPath(t *testing.T) {
	const secret = "proxy-secret"
	const path = "/proxy/view/ad-1/018f7f3e-0000-7000-8000-000000000001/"

	sig := SignPath(secret, path)
	assert.True(t, VerifyPath(secret, path, sig))

	assert.False(t, VerifyPath(secret, path, ""))
	assert.False(t, VerifyPath(secret, path, sig+"00"))
	assert.False(t, VerifyPath(secret, "/proxy/view/ad-2/nonce/", sig))
	assert.False(t, VerifyPath("other-secret", path, sig))
}
