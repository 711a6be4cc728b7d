package ledger

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/store"
	"github.com/mezonai/mmnchain/transaction"
)

// Ledger is the UTXO set. Every operation is reversible: spends are journaled
// so RestoreSpent can put them back during a rollback.
type Ledger struct {
	mu    sync.RWMutex
	utxos store.UTXOStore
}

func NewLedger(utxos store.UTXOStore) *Ledger {
	return &Ledger{utxos: utxos}
}

// Spend marks the inputs of tx as spent.
func (l *Ledger) Spend(tx *transaction.Transaction) error {
	return l.single(func(v *view) error { return v.spend(tx) })
}

// AddOutputs creates the outputs of tx, recorded as mined at height.
func (l *Ledger) AddOutputs(tx *transaction.Transaction, height uint64) error {
	return l.single(func(v *view) error { return v.addOutputs(tx, height) })
}

// RemoveOutputs deletes the outputs tx created.
func (l *Ledger) RemoveOutputs(tx *transaction.Transaction) error {
	return l.single(func(v *view) error { return v.removeOutputs(tx) })
}

// RestoreSpent makes the inputs of tx unspent again.
func (l *Ledger) RestoreSpent(tx *transaction.Transaction) error {
	return l.single(func(v *view) error { return v.restoreSpent(tx) })
}

func (l *Ledger) single(fn func(v *view) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := newView(l.utxos)
	if err := fn(v); err != nil {
		return err
	}
	return v.commit()
}

// ApplyBlock spends inputs and adds outputs for every transaction of b in
// order. Either all effects are written or none are.
func (l *Ledger) ApplyBlock(b *block.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := newView(l.utxos)
	for _, tx := range b.Transactions {
		if err := v.spend(tx); err != nil {
			return err
		}
		if err := v.addOutputs(tx, b.Header.Index); err != nil {
			return err
		}
	}
	v.cs.SetHeight(b.Header.Index)
	if err := v.commit(); err != nil {
		return err
	}
	logx.Debug("LEDGER", fmt.Sprintf("Applied block %d (%d txs)", b.Header.Index, len(b.Transactions)))
	return nil
}

// RevertBlock undoes ApplyBlock: transactions are walked in reverse, each
// removing its outputs and then restoring its inputs.
func (l *Ledger) RevertBlock(b *block.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := newView(l.utxos)
	for i := len(b.Transactions) - 1; i >= 0; i-- {
		tx := b.Transactions[i]
		if err := v.removeOutputs(tx); err != nil {
			return err
		}
		if err := v.restoreSpent(tx); err != nil {
			return err
		}
	}
	if b.Header.Index > 0 {
		v.cs.SetHeight(b.Header.Index - 1)
	}
	if err := v.commit(); err != nil {
		return err
	}
	logx.Debug("LEDGER", fmt.Sprintf("Reverted block %d", b.Header.Index))
	return nil
}

// Reset drops the whole UTXO set so it can be rebuilt by replaying the chain.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.utxos.Clear(); err != nil {
		return chainerrors.Storage("failed to reset ledger", err)
	}
	logx.Info("LEDGER", "UTXO set cleared")
	return nil
}

// Height is the index of the last block applied to the UTXO set.
func (l *Ledger) Height() (height uint64, found bool, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utxos.Height()
}

func (l *Ledger) GetUTXO(op transaction.OutPoint) (*transaction.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utxos.GetUnspent(op)
}

// UTXOsByAddress lists unspent outputs paying addr.
func (l *Ledger) UTXOsByAddress(addr string) ([]*transaction.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*transaction.UTXO
	err := l.utxos.ForEachUnspent(func(u *transaction.UTXO) bool {
		if u.Output.Address == addr {
			out = append(out, u)
		}
		return true
	})
	return out, err
}

// Balance returns the sum of unspent outputs paying addr.
func (l *Ledger) Balance(addr string) (*uint256.Int, error) {
	utxos, err := l.UTXOsByAddress(addr)
	if err != nil {
		return uint256.NewInt(0), err
	}
	total := uint256.NewInt(0)
	for _, u := range utxos {
		total.Add(total, u.Output.Amount)
	}
	return total, nil
}

// Snapshot returns every unspent output keyed by outpoint.
func (l *Ledger) Snapshot() (map[string]*transaction.UTXO, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]*transaction.UTXO)
	err := l.utxos.ForEachUnspent(func(u *transaction.UTXO) bool {
		out[u.OutPoint.String()] = u
		return true
	})
	return out, err
}
