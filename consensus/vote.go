package consensus

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/common"
)

// VotePayload is the message a validator signs: "{domain}|{block_hash}|{block_index}".
func VotePayload(domain string, hash block.Hash, index uint64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", domain, hash, index))
}

// SignVote returns the base58 signature of priv over the vote payload of h.
func SignVote(priv ed25519.PrivateKey, domain string, h *block.BlockHeader) string {
	return common.EncodeBytesToBase58(ed25519.Sign(priv, VotePayload(domain, h.Hash, h.Index)))
}

// SignatureVerifier checks a signature over message.
type SignatureVerifier interface {
	Verify(publicKey ed25519.PublicKey, message, signature []byte) bool
}

type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
