package block

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/transaction"
)

const (
	DefaultGenesisTimestamp  = 1700000000.0
	DefaultGenesisDifficulty = 8
	DefaultGenesisMiner      = "GENESIS"
	DefaultFaucetAddress     = "5cKqYwGMZ8Y3kV3XHHqKTtN5uHeq9VxrkWdQ1JAVVrjM"
	DefaultFaucetAmount      = 2_000_000_000
)

// DefaultGenesisSpec is the hard-coded initial allocation used when no
// genesis file is configured.
func DefaultGenesisSpec() *config.GenesisSpec {
	return &config.GenesisSpec{
		Timestamp:   DefaultGenesisTimestamp,
		Difficulty:  DefaultGenesisDifficulty,
		MinerPubKey: DefaultGenesisMiner,
		Version:     CurrentVersion,
		Allocations: []config.Allocation{
			{Address: DefaultFaucetAddress, Amount: DefaultFaucetAmount},
		},
	}
}

// GenesisTransactions rebuilds the allocation transactions of spec.
func GenesisTransactions(spec *config.GenesisSpec) []*transaction.Transaction {
	txs := make([]*transaction.Transaction, 0, len(spec.Allocations))
	for i, alloc := range spec.Allocations {
		txs = append(txs, &transaction.Transaction{
			Sender: transaction.SenderGenesis,
			Outputs: []transaction.TxOutput{
				{Address: alloc.Address, Amount: uint256.NewInt(alloc.Amount)},
			},
			Timestamp: uint64(spec.Timestamp),
			Nonce:     uint64(i),
		})
	}
	return txs
}

// BuildGenesis reconstructs the genesis block from spec. The declared nonce and
// hash are kept only if they re-verify; otherwise the header is mined locally.
// mined reports whether local mining happened, so callers can persist the result.
func BuildGenesis(spec *config.GenesisSpec) (b *Block, mined bool, err error) {
	if spec == nil {
		return nil, false, fmt.Errorf("genesis spec cannot be nil")
	}
	if spec.Difficulty > MaxDifficulty {
		return nil, false, fmt.Errorf("genesis difficulty %d exceeds maximum %d", spec.Difficulty, MaxDifficulty)
	}
	version := spec.Version
	if version == 0 {
		version = CurrentVersion
	}

	txs := GenesisTransactions(spec)
	b = &Block{
		Header: BlockHeader{
			Index:        0,
			PreviousHash: ZeroHash,
			MerkleRoot:   CalculateMerkleRoot(txs),
			Timestamp:    spec.Timestamp,
			Difficulty:   spec.Difficulty,
			Nonce:        spec.Nonce,
			MinerPubKey:  spec.MinerPubKey,
			Version:      version,
		},
		Transactions: txs,
	}

	if spec.Hash != "" {
		declared, err := HashFromHex(spec.Hash)
		if err != nil {
			logx.Warn("GENESIS", "Declared genesis hash is malformed, re-mining: ", err)
		} else {
			b.Header.Hash = declared
			if b.Header.VerifyHash() {
				logx.Info("GENESIS", "Declared genesis hash verified: ", declared.String())
				return b, false, nil
			}
			logx.Warn("GENESIS", "Declared genesis hash does not re-verify, re-mining: ", declared.String())
		}
	}

	b.Header.Nonce = 0
	if err := b.Header.Mine(); err != nil {
		return nil, false, fmt.Errorf("mine genesis: %w", err)
	}
	logx.Info("GENESIS", fmt.Sprintf("Mined genesis block hash=%s nonce=%d", b.Header.Hash, b.Header.Nonce))
	return b, true, nil
}

// RecordMined copies the mined nonce/hash into spec for write-back.
func RecordMined(spec *config.GenesisSpec, b *Block) {
	spec.Nonce = b.Header.Nonce
	spec.Hash = b.Header.Hash.String()
	spec.Version = b.Header.Version
}
