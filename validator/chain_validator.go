package validator

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/transaction"
)

// MaxFutureDrift bounds how far ahead of local time a block timestamp may be.
const MaxFutureDrift = 2 * time.Hour

// ChainValidator performs the structural and cryptographic checks a block or
// candidate chain must pass before the chain state machine touches it.
type ChainValidator struct {
	coinbaseReward *uint256.Int
	now            func() time.Time
}

// NewChainValidator creates a validator. A zero coinbaseReward disables the
// coinbase amount check.
func NewChainValidator(coinbaseReward uint64) *ChainValidator {
	v := &ChainValidator{now: time.Now}
	if coinbaseReward > 0 {
		v.coinbaseReward = uint256.NewInt(coinbaseReward)
	}
	return v
}

func invalid(code chainerrors.ErrorCode, format string, args ...interface{}) error {
	return chainerrors.Validation(code, fmt.Sprintf(format, args...))
}

// ValidateHeader checks h on its own and, when parent is not nil, its link to parent.
func (v *ChainValidator) ValidateHeader(h, parent *block.BlockHeader) error {
	if h.Version == 0 {
		return invalid(chainerrors.ErrCodeInvalidBlock, "block %d has version 0", h.Index)
	}
	if parent == nil {
		if h.Index != 0 || !h.PreviousHash.IsZero() {
			return invalid(chainerrors.ErrCodeNotContiguous, "block %d has no parent", h.Index)
		}
	} else {
		if h.Index != parent.Index+1 {
			return invalid(chainerrors.ErrCodeNotContiguous, "invalid index: expected %d, got %d", parent.Index+1, h.Index)
		}
		if h.PreviousHash != parent.Hash {
			return invalid(chainerrors.ErrCodeNotContiguous, "block %d does not link to %s", h.Index, parent.Hash)
		}
		if h.Timestamp < parent.Timestamp {
			return invalid(chainerrors.ErrCodeInvalidBlock, "block %d timestamp precedes its parent", h.Index)
		}
	}
	maxTime := float64(v.now().Add(MaxFutureDrift).Unix())
	if h.Timestamp > maxTime {
		return invalid(chainerrors.ErrCodeInvalidBlock, "block %d timestamp too far in future", h.Index)
	}
	if h.Hash != h.ComputeHash() {
		return invalid(chainerrors.ErrCodeInvalidBlock, "block %d hash does not match its header", h.Index)
	}
	if !h.MeetsDifficulty() {
		return invalid(chainerrors.ErrCodeInvalidPoW, "%s at block %d", chainerrors.ErrMsgInvalidPoW, h.Index)
	}
	if h.Signature != nil && !h.VerifySignature() {
		return invalid(chainerrors.ErrCodeInvalidSignature, "block %d miner signature is invalid", h.Index)
	}
	return nil
}

// ValidateBlock validates b as the child of parent (nil for genesis),
// including its transactions and Merkle root.
func (v *ChainValidator) ValidateBlock(b *block.Block, parent *block.BlockHeader) error {
	if b == nil {
		return invalid(chainerrors.ErrCodeInvalidBlock, "nil block")
	}
	if err := v.ValidateHeader(&b.Header, parent); err != nil {
		return err
	}
	if block.CalculateMerkleRoot(b.Transactions) != b.Header.MerkleRoot {
		return invalid(chainerrors.ErrCodeInvalidMerkleRoot, "%s at block %d", chainerrors.ErrMsgInvalidMerkleRoot, b.Header.Index)
	}
	return v.validateTransactions(b)
}

func (v *ChainValidator) validateTransactions(b *block.Block) error {
	ids := make(map[string]struct{}, len(b.Transactions))
	for i, tx := range b.Transactions {
		if tx == nil {
			return invalid(chainerrors.ErrCodeInvalidTx, "block %d tx %d is nil", b.Header.Index, i)
		}
		id := tx.Hash()
		if _, dup := ids[id]; dup {
			return invalid(chainerrors.ErrCodeDuplicateTx, "block %d repeats tx %s", b.Header.Index, id)
		}
		ids[id] = struct{}{}

		switch tx.Sender {
		case transaction.SenderCoinbase:
			if i != 0 {
				return invalid(chainerrors.ErrCodeInvalidTx, "coinbase must be the first transaction")
			}
			if v.coinbaseReward != nil && tx.TotalOutput().Gt(v.coinbaseReward) {
				return invalid(chainerrors.ErrCodeInvalidTx, "coinbase pays more than the block reward")
			}
		case transaction.SenderGenesis:
			if b.Header.Index != 0 {
				return invalid(chainerrors.ErrCodeInvalidTx, "genesis allocation outside the genesis block")
			}
		}
		if !tx.Verify() {
			return invalid(chainerrors.ErrCodeInvalidTx, "block %d tx %s failed verification", b.Header.Index, id)
		}
	}
	return nil
}

// ValidateChain checks that headers form a contiguous chain. With full set,
// each header is also re-hashed and checked for proof-of-work, signature and
// timestamp order.
func (v *ChainValidator) ValidateChain(headers []block.BlockHeader, full bool) error {
	if len(headers) == 0 {
		return invalid(chainerrors.ErrCodeInvalidBlock, "empty chain")
	}
	for i := range headers {
		var parent *block.BlockHeader
		if i > 0 {
			parent = &headers[i-1]
		}
		if !full {
			if parent != nil && (headers[i].Index != parent.Index+1 || headers[i].PreviousHash != parent.Hash) {
				return invalid(chainerrors.ErrCodeNotContiguous, "chain breaks at index %d", headers[i].Index)
			}
			continue
		}
		if parent == nil && headers[i].Index != 0 {
			// a chain segment: check the header itself but not its missing parent
			if err := v.ValidateHeader(&headers[i], &block.BlockHeader{
				Index:     headers[i].Index - 1,
				Hash:      headers[i].PreviousHash,
				Timestamp: headers[i].Timestamp,
			}); err != nil {
				return err
			}
			continue
		}
		if err := v.ValidateHeader(&headers[i], parent); err != nil {
			return err
		}
	}
	return nil
}
