package transaction

// UTXO is an unspent (or journaled spent) output as the ledger stores it.
type UTXO struct {
	OutPoint   OutPoint `json:"out_point"`
	Output     TxOutput `json:"output"`
	BlockIndex uint64   `json:"block_index"`
	// SpentBy is set only on journaled spent records.
	SpentBy string `json:"spent_by,omitempty"`
}
