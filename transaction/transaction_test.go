package transaction

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/jsonx"
	"github.com/stretchr/testify/require"
)

func newSignedTx(t *testing.T) (*Transaction, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tx := &Transaction{
		Sender:    common.EncodeBytesToBase58(pub),
		Inputs:    []TxInput{{PrevOut: OutPoint{TxID: "aa", Index: 0}}},
		Outputs:   []TxOutput{{Address: "bob", Amount: uint256.NewInt(40)}, {Address: "carol", Amount: uint256.NewInt(2)}},
		Timestamp: 1700000000,
		Nonce:     1,
	}
	tx.Sign(priv)
	return tx, priv
}

func TestTransaction_HashIgnoresSignature(t *testing.T) {
	tx, _ := newSignedTx(t)
	id := tx.Hash()
	tx.Signature = "something-else"
	require.Equal(t, id, tx.Hash())
	require.Len(t, id, 64)
}

func TestTransaction_HashChangesWithContent(t *testing.T) {
	tx, _ := newSignedTx(t)
	id := tx.Hash()
	tx.Outputs[0].Amount = uint256.NewInt(41)
	require.NotEqual(t, id, tx.Hash())
}

func TestTransaction_HashSeparatesFieldBoundaries(t *testing.T) {
	twoInputs := &Transaction{
		Sender: "alice",
		Inputs: []TxInput{
			{PrevOut: OutPoint{TxID: "aa", Index: 0}},
			{PrevOut: OutPoint{TxID: "bb", Index: 1}},
		},
		Outputs: []TxOutput{{Address: "bob", Amount: uint256.NewInt(1)}},
	}
	oneInput := &Transaction{
		Sender:  "alice",
		Inputs:  []TxInput{{PrevOut: OutPoint{TxID: "aa:0,bb", Index: 1}}},
		Outputs: []TxOutput{{Address: "bob", Amount: uint256.NewInt(1)}},
	}
	require.NotEqual(t, twoInputs.Hash(), oneInput.Hash())

	splitOutput := &Transaction{
		Sender:  "alice",
		Outputs: []TxOutput{{Address: "bob:1,carol", Amount: uint256.NewInt(2)}},
	}
	twoOutputs := &Transaction{
		Sender:  "alice",
		Outputs: []TxOutput{{Address: "bob", Amount: uint256.NewInt(1)}, {Address: "carol", Amount: uint256.NewInt(2)}},
	}
	require.NotEqual(t, splitOutput.Hash(), twoOutputs.Hash())

	pipeInText := &Transaction{Sender: "alice|1", TextData: "x"}
	pipeInSender := &Transaction{Sender: "alice", Timestamp: 1, TextData: "x"}
	require.NotEqual(t, pipeInText.Hash(), pipeInSender.Hash())
}

func TestTransaction_NilAndEmptyInputsShareID(t *testing.T) {
	empty := &Transaction{Sender: SenderCoinbase}
	require.Equal(t, empty.Hash(), (&Transaction{Sender: SenderCoinbase, Inputs: []TxInput{}}).Hash())
}

func TestTransaction_Verify(t *testing.T) {
	tx, _ := newSignedTx(t)
	require.True(t, tx.Verify())

	tx.Nonce++
	require.False(t, tx.Verify(), "tampered content must fail")

	unsigned, _ := newSignedTx(t)
	unsigned.Signature = ""
	require.False(t, unsigned.Verify())

	noInputs, priv := newSignedTx(t)
	noInputs.Inputs = nil
	noInputs.Sign(priv)
	require.False(t, noInputs.Verify())
}

func TestTransaction_SystemSenders(t *testing.T) {
	cb := NewCoinbase("miner", uint256.NewInt(50), 7)
	require.True(t, cb.IsSystem())
	require.True(t, cb.Verify())
	require.Equal(t, uint64(7), cb.Nonce)

	cb.Inputs = []TxInput{{PrevOut: OutPoint{TxID: "x"}}}
	require.False(t, cb.Verify(), "system tx must not spend inputs")

	other := NewCoinbase("miner", uint256.NewInt(50), 8)
	require.NotEqual(t, NewCoinbase("miner", uint256.NewInt(50), 7).Hash(), other.Hash())
}

func TestTransaction_OutPointsAndTotals(t *testing.T) {
	tx, _ := newSignedTx(t)
	ops := tx.OutPoints()
	require.Len(t, ops, 2)
	require.Equal(t, OutPoint{TxID: tx.Hash(), Index: 1}, ops[1])
	require.Equal(t, uint64(42), tx.TotalOutput().Uint64())
}

func TestTransaction_JSONRoundTripKeepsID(t *testing.T) {
	tx, _ := newSignedTx(t)
	raw, err := jsonx.Marshal(tx)
	require.NoError(t, err)

	var decoded Transaction
	require.NoError(t, jsonx.Unmarshal(raw, &decoded))
	require.Equal(t, tx.Hash(), decoded.Hash())
	require.True(t, decoded.Verify())
}
