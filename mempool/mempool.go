package mempool

import (
	"fmt"
	"sync"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
	"github.com/mezonai/mmnchain/transaction"
)

// UTXOReader is the ledger view used to check that inputs exist.
type UTXOReader interface {
	GetUTXO(op transaction.OutPoint) (*transaction.UTXO, error)
}

// Mempool holds pending transactions. The pending list, the seen-id set, the
// per-sender counters and the spent-input markers share one lock so a block
// removal is never observed half done.
type Mempool struct {
	mu           sync.Mutex
	pending      []*transaction.Transaction
	byID         map[string]*transaction.Transaction
	seen         *seenSet
	senderCounts map[string]int
	// outpoint -> id of the pending tx claiming it
	spentInputs map[string]string

	maxTxs       int
	maxPerSender int
	utxos        UTXOReader
	blacklist    *Blacklist
}

// NewMempool creates an empty mempool. utxos and blacklist may be nil.
func NewMempool(cfg config.MempoolConfig, utxos UTXOReader, blacklist *Blacklist) *Mempool {
	maxTxs := cfg.MaxTxs
	if maxTxs <= 0 {
		maxTxs = config.DefaultMempoolMaxTxs
	}
	maxPerSender := cfg.MaxPendingPerSender
	if maxPerSender <= 0 {
		maxPerSender = config.DefaultMaxPendingSender
	}
	return &Mempool{
		byID:         make(map[string]*transaction.Transaction),
		seen:         newSeenSet(),
		senderCounts: make(map[string]int),
		spentInputs:  make(map[string]string),
		maxTxs:       maxTxs,
		maxPerSender: maxPerSender,
		utxos:        utxos,
		blacklist:    blacklist,
	}
}

// Add validates tx and queues it.
func (mp *Mempool) Add(tx *transaction.Transaction) error {
	if tx.IsSystem() {
		return chainerrors.Validation(chainerrors.ErrCodeInvalidTx, "system transactions cannot be submitted")
	}
	if !tx.Verify() {
		return chainerrors.Validation(chainerrors.ErrCodeInvalidSignature, chainerrors.ErrMsgInvalidSignature)
	}
	if mp.blacklist != nil {
		if reason, blocked := mp.blacklist.Reason(tx.Sender); blocked {
			return chainerrors.Validation(chainerrors.ErrCodeInvalidTx, fmt.Sprintf("sender is blacklisted: %s", reason))
		}
	}
	if err := mp.checkInputsExist(tx); err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	id := tx.Hash()
	if _, exists := mp.byID[id]; exists || mp.seen.has(id) {
		return chainerrors.Validation(chainerrors.ErrCodeDuplicateTx, chainerrors.ErrMsgDuplicateTx)
	}
	if len(mp.pending) >= mp.maxTxs {
		return chainerrors.Validation(chainerrors.ErrCodeMempoolFull, chainerrors.ErrMsgMempoolFull)
	}
	if mp.senderCounts[tx.Sender] >= mp.maxPerSender {
		return chainerrors.Validation(chainerrors.ErrCodeMempoolFull,
			fmt.Sprintf("sender has %d pending transactions", mp.senderCounts[tx.Sender]))
	}
	if owner, claimed := mp.claimedLocked(tx); claimed {
		return chainerrors.Validation(chainerrors.ErrCodeMissingOutput,
			fmt.Sprintf("input already claimed by pending tx %s", owner))
	}

	mp.insertLocked(id, tx)
	logx.Debug("MEMPOOL", "Added tx ", id, " from ", tx.Sender)
	return nil
}

// checkInputsExist allows an input that is unspent in the ledger or created
// by a transaction still pending here.
func (mp *Mempool) checkInputsExist(tx *transaction.Transaction) error {
	if mp.utxos == nil {
		return nil
	}
	for _, in := range tx.Inputs {
		u, err := mp.utxos.GetUTXO(in.PrevOut)
		if err != nil {
			return chainerrors.Storage("failed to read utxo", err)
		}
		if u != nil {
			continue
		}
		mp.mu.Lock()
		_, pendingParent := mp.byID[in.PrevOut.TxID]
		mp.mu.Unlock()
		if !pendingParent {
			return chainerrors.Validation(chainerrors.ErrCodeMissingOutput,
				fmt.Sprintf("%s: %s", chainerrors.ErrMsgMissingOutput, in.PrevOut))
		}
	}
	return nil
}

// claimedLocked returns the pending tx already spending one of tx's inputs.
func (mp *Mempool) claimedLocked(tx *transaction.Transaction) (owner string, claimed bool) {
	for _, in := range tx.Inputs {
		if owner, ok := mp.spentInputs[in.PrevOut.String()]; ok {
			return owner, true
		}
	}
	return "", false
}

func (mp *Mempool) insertLocked(id string, tx *transaction.Transaction) {
	mp.pending = append(mp.pending, tx)
	mp.byID[id] = tx
	mp.senderCounts[tx.Sender]++
	for _, in := range tx.Inputs {
		mp.spentInputs[in.PrevOut.String()] = id
	}
	monitoring.SetMempoolSize(len(mp.pending))
}

// RemoveMined drops every pending transaction mined in b, plus any pending
// transaction whose inputs b spent, and remembers the mined ids.
func (mp *Mempool) RemoveMined(b *block.Block) int {
	mined := make(map[string]struct{}, len(b.Transactions))
	minedIDs := make([]string, 0, len(b.Transactions))
	spentByBlock := make(map[string]struct{})
	for _, tx := range b.Transactions {
		id := tx.Hash()
		mined[id] = struct{}{}
		minedIDs = append(minedIDs, id)
		for _, in := range tx.Inputs {
			spentByBlock[in.PrevOut.String()] = struct{}{}
		}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	kept := mp.pending[:0]
	removed := 0
	for _, tx := range mp.pending {
		id := tx.Hash()
		_, isMined := mined[id]
		if !isMined && !conflicts(tx, spentByBlock) {
			kept = append(kept, tx)
			continue
		}
		mp.releaseLocked(id, tx)
		removed++
	}
	for i := len(kept); i < len(mp.pending); i++ {
		mp.pending[i] = nil
	}
	mp.pending = kept

	mp.seen.add(b.Header.Index, minedIDs)
	mp.seen.cleanUp(b.Header.Index)
	monitoring.SetMempoolSize(len(mp.pending))

	if removed > 0 {
		logx.Debug("MEMPOOL", fmt.Sprintf("Removed %d txs for block %d", removed, b.Header.Index))
	}
	return removed
}

func conflicts(tx *transaction.Transaction, spent map[string]struct{}) bool {
	for _, in := range tx.Inputs {
		if _, ok := spent[in.PrevOut.String()]; ok {
			return true
		}
	}
	return false
}

func (mp *Mempool) releaseLocked(id string, tx *transaction.Transaction) {
	delete(mp.byID, id)
	if mp.senderCounts[tx.Sender] <= 1 {
		delete(mp.senderCounts, tx.Sender)
	} else {
		mp.senderCounts[tx.Sender]--
	}
	for _, in := range tx.Inputs {
		key := in.PrevOut.String()
		if mp.spentInputs[key] == id {
			delete(mp.spentInputs, key)
		}
	}
}

// ReturnTransactions puts back transactions from blocks rolled back by a
// reorg. System transactions, ones already pending and ones spending an
// input a pending transaction already claims are skipped; ids are
// forgotten from the seen set so they can be mined again.
func (mp *Mempool) ReturnTransactions(txs []*transaction.Transaction) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	returned := 0
	for _, tx := range txs {
		id := tx.Hash()
		mp.seen.remove(id)
		if tx.IsSystem() {
			continue
		}
		if _, exists := mp.byID[id]; exists {
			continue
		}
		if owner, claimed := mp.claimedLocked(tx); claimed {
			logx.Warn("MEMPOOL", "Dropping returned tx ", id, ": input already claimed by pending tx ", owner)
			continue
		}
		if len(mp.pending) >= mp.maxTxs {
			logx.Warn("MEMPOOL", "Mempool full, dropping returned tx ", id)
			continue
		}
		mp.insertLocked(id, tx)
		returned++
	}
	if returned > 0 {
		logx.Info("MEMPOOL", fmt.Sprintf("Returned %d txs from rolled back blocks", returned))
	}
	return returned
}

// Pending returns up to max queued transactions in arrival order without removing them.
func (mp *Mempool) Pending(max int) []*transaction.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if max <= 0 || max > len(mp.pending) {
		max = len(mp.pending)
	}
	out := make([]*transaction.Transaction, max)
	copy(out, mp.pending[:max])
	return out
}

func (mp *Mempool) Has(id string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	_, ok := mp.byID[id]
	return ok
}

// Seen reports whether id was mined recently.
func (mp *Mempool) Seen(id string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.seen.has(id)
}

func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.pending)
}

func (mp *Mempool) PendingBySender(sender string) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.senderCounts[sender]
}
