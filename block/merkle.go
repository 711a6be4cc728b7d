package block

import (
	"crypto/sha256"

	"github.com/mezonai/mmnchain/transaction"
)

// CalculateMerkleRoot commits to transaction ids and their order.
//
// Leaves are transaction content hashes. On each level an odd count duplicates
// the last hash, then adjacent pairs are hashed as sha256(hexLeft + hexRight).
// An empty list yields sha256("").
func CalculateMerkleRoot(txs []*transaction.Transaction) Hash {
	if len(txs) == 0 {
		return Hash(sha256.Sum256(nil))
	}

	level := make([]Hash, len(txs))
	for i, tx := range txs {
		leaf, err := HashFromHex(tx.Hash())
		if err != nil {
			// tx.Hash always yields 64 hex chars
			panic(err)
		}
		level[i] = leaf
	}
	return merkleFromLeaves(level)
}

func merkleFromLeaves(level []Hash) Hash {
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			pair := level[i].String() + level[i+1].String()
			next[i/2] = sha256.Sum256([]byte(pair))
		}
		level = next
	}
	return level[0]
}
