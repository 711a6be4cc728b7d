package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/store"
	"github.com/mezonai/mmnchain/transaction"
)

// view overlays staged changes on top of the store so several transactions of
// one block can see each other's outputs before anything is written.
type view struct {
	utxos store.UTXOStore
	cs    *store.UTXOChangeSet
}

func newView(utxos store.UTXOStore) *view {
	return &view{utxos: utxos, cs: store.NewUTXOChangeSet()}
}

func (v *view) unspent(op transaction.OutPoint) (*transaction.UTXO, error) {
	if u, ok := v.cs.Unspent[op.String()]; ok {
		return u, nil
	}
	u, err := v.utxos.GetUnspent(op)
	if err != nil {
		return nil, chainerrors.Storage("failed to read utxo", err)
	}
	return u, nil
}

func (v *view) spent(op transaction.OutPoint) (*transaction.UTXO, error) {
	if u, ok := v.cs.Spent[op.String()]; ok {
		return u, nil
	}
	u, err := v.utxos.GetSpent(op)
	if err != nil {
		return nil, chainerrors.Storage("failed to read spent utxo", err)
	}
	return u, nil
}

// spend moves every input of tx into the spent journal. It checks ownership
// and that inputs cover the outputs.
func (v *view) spend(tx *transaction.Transaction) error {
	if tx.IsSystem() {
		return nil
	}
	txID := tx.Hash()
	total := uint256.NewInt(0)
	for _, in := range tx.Inputs {
		u, err := v.unspent(in.PrevOut)
		if err != nil {
			return err
		}
		if u == nil {
			return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeMissingOutput,
				fmt.Sprintf("%s: %s", chainerrors.ErrMsgMissingOutput, in.PrevOut))
		}
		if u.Output.Address != tx.Sender {
			return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeInvalidTx,
				fmt.Sprintf("output %s is not owned by sender", in.PrevOut))
		}
		if _, overflow := total.AddOverflow(total, u.Output.Amount); overflow {
			return chainerrors.Validation(chainerrors.ErrCodeInvalidTx, "input total overflows")
		}
		rec := *u
		rec.SpentBy = txID
		v.cs.Unspent[in.PrevOut.String()] = nil
		v.cs.Spent[in.PrevOut.String()] = &rec
	}
	if total.Lt(tx.TotalOutput()) {
		return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeInvalidTx,
			fmt.Sprintf("transaction %s spends more than its inputs", txID))
	}
	return nil
}

func (v *view) addOutputs(tx *transaction.Transaction, height uint64) error {
	for i, op := range tx.OutPoints() {
		existing, err := v.unspent(op)
		if err != nil {
			return err
		}
		if existing != nil {
			return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeDuplicateTx,
				fmt.Sprintf("%s: %s", chainerrors.ErrMsgDuplicateTx, op.TxID))
		}
		out := tx.Outputs[i]
		v.cs.Unspent[op.String()] = &transaction.UTXO{
			OutPoint:   op,
			Output:     transaction.TxOutput{Address: out.Address, Amount: new(uint256.Int).Set(out.Amount)},
			BlockIndex: height,
		}
	}
	return nil
}

func (v *view) removeOutputs(tx *transaction.Transaction) error {
	for _, op := range tx.OutPoints() {
		existing, err := v.unspent(op)
		if err != nil {
			return err
		}
		if existing == nil {
			return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeMissingOutput,
				fmt.Sprintf("cannot remove %s: not unspent", op))
		}
		v.cs.Unspent[op.String()] = nil
	}
	return nil
}

func (v *view) restoreSpent(tx *transaction.Transaction) error {
	if tx.IsSystem() {
		return nil
	}
	for _, in := range tx.Inputs {
		rec, err := v.spent(in.PrevOut)
		if err != nil {
			return err
		}
		if rec == nil {
			return chainerrors.NewError(chainerrors.KindValidation, chainerrors.ErrCodeMissingOutput,
				fmt.Sprintf("no spent record for %s", in.PrevOut))
		}
		restored := *rec
		restored.SpentBy = ""
		v.cs.Unspent[in.PrevOut.String()] = &restored
		v.cs.Spent[in.PrevOut.String()] = nil
	}
	return nil
}

func (v *view) commit() error {
	if err := v.utxos.Commit(v.cs); err != nil {
		return chainerrors.Storage("failed to commit utxo changes", err)
	}
	return nil
}
