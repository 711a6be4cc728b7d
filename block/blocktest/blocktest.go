// Package blocktest builds real mined blocks and deterministic keys for tests.
package blocktest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/transaction"
)

const (
	Difficulty = 1
	Reward     = 50
)

// DeterministicKey returns the same ed25519 key for the same index on every run.
func DeterministicKey(i int) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte(fmt.Sprintf("mmnchain-test-key-%d", i)))
	return ed25519.NewKeyFromSeed(seed[:])
}

func DeterministicKeys(n int) []ed25519.PrivateKey {
	keys := make([]ed25519.PrivateKey, n)
	for i := range keys {
		keys[i] = DeterministicKey(i)
	}
	return keys
}

// Address is the base58 public key of priv.
func Address(priv ed25519.PrivateKey) string {
	return common.EncodeBytesToBase58(priv.Public().(ed25519.PublicKey))
}

// GenesisSpec allocates amount to each address at difficulty 1.
func GenesisSpec(amount uint64, addrs ...string) *config.GenesisSpec {
	spec := &config.GenesisSpec{
		Timestamp:   block.DefaultGenesisTimestamp,
		Difficulty:  Difficulty,
		MinerPubKey: block.DefaultGenesisMiner,
		Version:     block.CurrentVersion,
	}
	for _, a := range addrs {
		spec.Allocations = append(spec.Allocations, config.Allocation{Address: a, Amount: amount})
	}
	return spec
}

// Genesis builds and mines the genesis block of spec.
func Genesis(spec *config.GenesisSpec) *block.Block {
	b, _, err := block.BuildGenesis(spec)
	if err != nil {
		panic(err)
	}
	return b
}

// NewBlock mines a block on parent. tag becomes the coinbase recipient, so
// blocks built on the same parent with different tags are distinct forks.
func NewBlock(parent *block.BlockHeader, tag string, txs ...*transaction.Transaction) *block.Block {
	return NewBlockWithDifficulty(parent, tag, Difficulty, txs...)
}

func NewBlockWithDifficulty(parent *block.BlockHeader, tag string, difficulty uint32, txs ...*transaction.Transaction) *block.Block {
	all := make([]*transaction.Transaction, 0, len(txs)+1)
	all = append(all, transaction.NewCoinbase(tag, uint256.NewInt(Reward), parent.Index+1))
	all = append(all, txs...)
	b := block.AssembleBlock(parent, all, parent.Timestamp+1, difficulty, tag)
	if err := b.Header.Mine(); err != nil {
		panic(err)
	}
	return b
}

// Extend mines n consecutive blocks on parent.
func Extend(parent *block.BlockHeader, n int, tag string) []*block.Block {
	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		b := NewBlock(parent, tag)
		out = append(out, b)
		parent = &b.Header
	}
	return out
}

// Spend signs a transaction paying the whole of prev (worth amount) to to.
func Spend(priv ed25519.PrivateKey, prev transaction.OutPoint, to string, amount uint64) *transaction.Transaction {
	tx := &transaction.Transaction{
		Sender:  Address(priv),
		Inputs:  []transaction.TxInput{{PrevOut: prev}},
		Outputs: []transaction.TxOutput{{Address: to, Amount: uint256.NewInt(amount)}},
	}
	tx.Sign(priv)
	return tx
}
