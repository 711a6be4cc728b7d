package common

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// EncodeBytesToBase58 encodes bytes directly to base58
func EncodeBytesToBase58(bytes []byte) string {
	return base58.Encode(bytes)
}

// DecodeBase58ToBytes decodes base58 string to bytes
func DecodeBase58ToBytes(base58Str string) ([]byte, error) {
	bytes, err := base58.Decode(base58Str)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode base58 string")
	}
	return bytes, nil
}

// PublicKeyFromBase58 decodes an ed25519 public key; idType names the field in errors.
func PublicKeyFromBase58(id string, idType string) (ed25519.PublicKey, error) {
	if id == "" {
		return nil, errors.Errorf("%s cannot be empty", idType)
	}

	pubKeyBytes, err := DecodeBase58ToBytes(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", idType)
	}

	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid %s length: expected %d, got %d", idType, ed25519.PublicKeySize, len(pubKeyBytes))
	}

	return ed25519.PublicKey(pubKeyBytes), nil
}
