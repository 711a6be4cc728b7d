package mempool

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/transaction"
	"github.com/stretchr/testify/require"
)

type fakeUTXOs map[string]*transaction.UTXO

func (f fakeUTXOs) GetUTXO(op transaction.OutPoint) (*transaction.UTXO, error) {
	return f[op.String()], nil
}

type wallet struct {
	priv ed25519.PrivateKey
	addr string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return wallet{priv: priv, addr: common.EncodeBytesToBase58(pub)}
}

func (w wallet) spend(prev transaction.OutPoint, to string, amount uint64) *transaction.Transaction {
	tx := &transaction.Transaction{
		Sender:  w.addr,
		Inputs:  []transaction.TxInput{{PrevOut: prev}},
		Outputs: []transaction.TxOutput{{Address: to, Amount: uint256.NewInt(amount)}},
	}
	tx.Sign(w.priv)
	return tx
}

func fund(utxos fakeUTXOs, owner string, txID string) transaction.OutPoint {
	op := transaction.OutPoint{TxID: txID, Index: 0}
	utxos[op.String()] = &transaction.UTXO{
		OutPoint: op,
		Output:   transaction.TxOutput{Address: owner, Amount: uint256.NewInt(100)},
	}
	return op
}

func TestMempool_AddAndReject(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	op := fund(utxos, alice.addr, "f1")
	mp := NewMempool(config.MempoolConfig{}, utxos, nil)

	tx := alice.spend(op, "bob", 10)
	require.NoError(t, mp.Add(tx))
	require.True(t, mp.Has(tx.Hash()))
	require.Equal(t, 1, mp.PendingBySender(alice.addr))

	err := mp.Add(tx)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDuplicateTx))

	conflicting := alice.spend(op, "carol", 10)
	err = mp.Add(conflicting)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeMissingOutput))

	missing := alice.spend(transaction.OutPoint{TxID: "nope"}, "bob", 1)
	err = mp.Add(missing)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeMissingOutput))

	forged := alice.spend(fund(utxos, alice.addr, "f2"), "bob", 1)
	forged.Outputs[0].Amount = uint256.NewInt(99)
	err = mp.Add(forged)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidSignature))

	err = mp.Add(transaction.NewCoinbase("x", uint256.NewInt(1), 1))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidTx))
}

func TestMempool_ChildOfPendingAllowed(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	bob := newWallet(t)
	mp := NewMempool(config.MempoolConfig{}, utxos, nil)

	parent := alice.spend(fund(utxos, alice.addr, "f1"), bob.addr, 10)
	require.NoError(t, mp.Add(parent))
	child := bob.spend(parent.OutPoints()[0], "carol", 10)
	require.NoError(t, mp.Add(child))
	require.Equal(t, 2, mp.Len())
}

func TestMempool_Limits(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	bob := newWallet(t)
	mp := NewMempool(config.MempoolConfig{MaxTxs: 2, MaxPendingPerSender: 1}, utxos, nil)

	require.NoError(t, mp.Add(alice.spend(fund(utxos, alice.addr, "a1"), "x", 1)))
	err := mp.Add(alice.spend(fund(utxos, alice.addr, "a2"), "x", 1))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeMempoolFull))

	require.NoError(t, mp.Add(bob.spend(fund(utxos, bob.addr, "b1"), "x", 1)))
	carol := newWallet(t)
	err = mp.Add(carol.spend(fund(utxos, carol.addr, "c1"), "x", 1))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeMempoolFull))
}

func TestMempool_RemoveMinedAndReturn(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	bob := newWallet(t)
	mp := NewMempool(config.MempoolConfig{}, utxos, nil)

	opA := fund(utxos, alice.addr, "a1")
	minedTx := alice.spend(opA, "x", 1)
	keep := bob.spend(fund(utxos, bob.addr, "b1"), "x", 1)
	require.NoError(t, mp.Add(minedTx))
	require.NoError(t, mp.Add(keep))

	b := &block.Block{
		Header:       block.BlockHeader{Index: 5},
		Transactions: []*transaction.Transaction{transaction.NewCoinbase("m", uint256.NewInt(1), 5), minedTx},
	}
	require.Equal(t, 1, mp.RemoveMined(b))
	require.Equal(t, 1, mp.Len())
	require.Zero(t, mp.PendingBySender(alice.addr))
	require.True(t, mp.Seen(minedTx.Hash()))

	// seen ids are refused until returned
	err := mp.Add(minedTx)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDuplicateTx))

	require.Equal(t, 1, mp.ReturnTransactions(b.Transactions))
	require.False(t, mp.Seen(minedTx.Hash()))
	require.True(t, mp.Has(minedTx.Hash()))
	require.Equal(t, 1, mp.PendingBySender(alice.addr))
}

func TestMempool_ReturnSkipsClaimedInputs(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	mp := NewMempool(config.MempoolConfig{}, utxos, nil)

	op := fund(utxos, alice.addr, "a1")
	rolledBack := alice.spend(op, "x", 1)
	rival := alice.spend(op, "y", 2)
	require.NoError(t, mp.Add(rival))

	require.Zero(t, mp.ReturnTransactions([]*transaction.Transaction{rolledBack}))
	require.False(t, mp.Has(rolledBack.Hash()))
	require.True(t, mp.Has(rival.Hash()))
	require.Equal(t, rival.Hash(), mp.spentInputs[op.String()])
	require.Equal(t, 1, mp.PendingBySender(alice.addr))
}

func TestMempool_RemoveMinedEvictsConflicts(t *testing.T) {
	utxos := fakeUTXOs{}
	alice := newWallet(t)
	mp := NewMempool(config.MempoolConfig{}, utxos, nil)

	op := fund(utxos, alice.addr, "a1")
	pending := alice.spend(op, "x", 1)
	require.NoError(t, mp.Add(pending))

	rival := alice.spend(op, "y", 2)
	b := &block.Block{Header: block.BlockHeader{Index: 1}, Transactions: []*transaction.Transaction{rival}}
	require.Equal(t, 1, mp.RemoveMined(b))
	require.Zero(t, mp.Len())

	require.Zero(t, mp.PendingBySender(alice.addr))
	require.Empty(t, mp.spentInputs)
}

func TestMempool_Blacklist(t *testing.T) {
	dir := t.TempDir()
	utxos := fakeUTXOs{}
	alice := newWallet(t)

	bl := NewBlacklist(dir)
	require.NoError(t, bl.Load())
	require.NoError(t, bl.Add(alice.addr, "spam"))

	reloaded := NewBlacklist(dir)
	require.NoError(t, reloaded.Load())
	reason, ok := reloaded.Reason(alice.addr)
	require.True(t, ok)
	require.Equal(t, "spam", reason)

	mp := NewMempool(config.MempoolConfig{}, utxos, reloaded)
	err := mp.Add(alice.spend(fund(utxos, alice.addr, "a1"), "x", 1))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidTx))

	require.NoError(t, reloaded.Remove(alice.addr))
	require.NoError(t, mp.Add(alice.spend(fund(utxos, alice.addr, "a2"), "x", 1)))
}

func TestSeenSet_CleanUp(t *testing.T) {
	s := newSeenSet()
	s.add(1, []string{"a"})
	s.add(SeenWindow+5, []string{"b"})
	s.cleanUp(SeenWindow + 5)
	require.False(t, s.has("a"))
	require.True(t, s.has("b"))
	require.Equal(t, 1, s.len())
}
