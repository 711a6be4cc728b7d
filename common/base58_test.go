package common

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublicKeyFromBase58(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	decoded, err := PublicKeyFromBase58(EncodeBytesToBase58(pub), "validator key")
	require.NoError(t, err)
	require.Equal(t, pub, decoded)

	_, err = PublicKeyFromBase58("", "validator key")
	require.ErrorContains(t, err, "validator key cannot be empty")

	_, err = PublicKeyFromBase58(EncodeBytesToBase58([]byte{1, 2, 3}), "validator key")
	require.ErrorContains(t, err, "invalid validator key length")

	_, err = PublicKeyFromBase58("0OIl", "validator key")
	require.Error(t, err)
}
