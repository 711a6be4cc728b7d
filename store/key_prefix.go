package store

// Declare database key prefix for objects
const (
	PrefixBlockMeta   = "blk_meta:"
	PrefixBlock       = "blk:"
	PrefixBlockByHash = "blk_hash:"
	BlockMetaKeyTip   = "tip"

	PrefixUTXO          = "utxo:"
	PrefixSpent         = "spent:"
	PrefixLedgerMeta    = "ledger_meta:"
	LedgerMetaKeyHeight = "height"

	PrefixAddrTx = "addr_tx:"

	PrefixCheckpoint = "checkpoint:"
)
