package validator

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/block/blocktest"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/transaction"
	"github.com/stretchr/testify/require"
)

func fixture() (*block.Block, []*block.Block) {
	key := blocktest.DeterministicKey(0)
	genesis := blocktest.Genesis(blocktest.GenesisSpec(100, blocktest.Address(key)))
	chain := blocktest.Extend(&genesis.Header, 3, "miner")
	return genesis, chain
}

func TestValidateBlock_AcceptsMinedChain(t *testing.T) {
	v := NewChainValidator(blocktest.Reward)
	genesis, blocks := fixture()

	require.NoError(t, v.ValidateBlock(genesis, nil))
	parent := &genesis.Header
	for _, b := range blocks {
		require.NoError(t, v.ValidateBlock(b, parent))
		parent = &b.Header
	}
}

func TestValidateBlock_Rejections(t *testing.T) {
	v := NewChainValidator(blocktest.Reward)
	genesis, blocks := fixture()

	err := v.ValidateBlock(blocks[1], &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeNotContiguous))

	tampered := *blocks[0]
	tampered.Header.Nonce++
	err = v.ValidateBlock(&tampered, &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidBlock))

	badRoot := *blocks[0]
	badRoot.Transactions = append([]*transaction.Transaction{}, badRoot.Transactions...)
	badRoot.Transactions = append(badRoot.Transactions, transaction.NewCoinbase("x", uint256.NewInt(1), 99))
	err = v.ValidateBlock(&badRoot, &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidMerkleRoot))

	greedy := block.AssembleBlock(&genesis.Header, []*transaction.Transaction{
		transaction.NewCoinbase("miner", uint256.NewInt(blocktest.Reward+1), 1),
	}, genesis.Header.Timestamp+1, 1, "miner")
	require.NoError(t, greedy.Header.Mine())
	err = v.ValidateBlock(greedy, &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidTx))
}

func TestValidateHeader_PoWAndSignature(t *testing.T) {
	v := NewChainValidator(0)
	genesis, _ := fixture()

	hard := block.AssembleBlock(&genesis.Header, nil, genesis.Header.Timestamp+1, 40, "miner")
	hard.Header.Hash = hard.Header.ComputeHash()
	err := v.ValidateHeader(&hard.Header, &genesis.Header)
	if hard.Header.Hash.LeadingZeroBits() < 40 {
		require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidPoW))
	}

	key := blocktest.DeterministicKey(1)
	signed := blocktest.NewBlock(&genesis.Header, blocktest.Address(key))
	signed.Header.Sign(key)
	require.NoError(t, v.ValidateHeader(&signed.Header, &genesis.Header))

	other := blocktest.DeterministicKey(2)
	signed.Header.Sign(other)
	err = v.ValidateHeader(&signed.Header, &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidSignature))
}

func TestValidateHeader_FutureTimestamp(t *testing.T) {
	v := NewChainValidator(0)
	v.now = func() time.Time { return time.Unix(1700000000, 0) }
	genesis, _ := fixture()

	future := block.AssembleBlock(&genesis.Header, nil, 1700000000+3*3600, 1, "miner")
	require.NoError(t, future.Header.Mine())
	err := v.ValidateHeader(&future.Header, &genesis.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidBlock))
}

func TestValidateChain(t *testing.T) {
	v := NewChainValidator(0)
	genesis, blocks := fixture()
	headers := block.Headers(append([]*block.Block{genesis}, blocks...))

	require.NoError(t, v.ValidateChain(headers, true))
	require.NoError(t, v.ValidateChain(headers, false))
	require.NoError(t, v.ValidateChain(headers[2:], true))

	broken := append([]block.BlockHeader{}, headers...)
	broken = append(broken[:2], broken[3:]...)
	err := v.ValidateChain(broken, false)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeNotContiguous))

	forged := append([]block.BlockHeader{}, headers...)
	forged[2].MerkleRoot = block.Hash{9}
	require.NoError(t, v.ValidateChain(forged, false))
	err = v.ValidateChain(forged, true)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidBlock))

	require.Error(t, v.ValidateChain(nil, true))
}
