package addrindex

import (
	"fmt"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/store"
)

// BlockLoader loads canonical block bodies by index.
type BlockLoader interface {
	Load(index uint64) (*block.Block, error)
}

// Indexer maintains the address -> transaction index. It is best effort:
// callers log failures and Rebuild repairs any divergence from the chain.
type Indexer struct {
	store store.AddressIndexStore
}

func NewIndexer(s store.AddressIndexStore) *Indexer {
	return &Indexer{store: s}
}

func entriesFor(b *block.Block) []store.AddressEntry {
	var entries []store.AddressEntry
	seen := make(map[string]struct{})
	add := func(addr, txID string) {
		key := addr + "|" + txID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entries = append(entries, store.AddressEntry{Address: addr, TxID: txID, BlockIndex: b.Header.Index})
	}
	for _, tx := range b.Transactions {
		id := tx.Hash()
		if !tx.IsSystem() {
			add(tx.Sender, id)
		}
		for _, out := range tx.Outputs {
			add(out.Address, id)
		}
	}
	return entries
}

// IndexBlock records every sender and recipient of b.
func (ix *Indexer) IndexBlock(b *block.Block) error {
	if err := ix.store.Put(entriesFor(b)); err != nil {
		return fmt.Errorf("index block %d: %w", b.Header.Index, err)
	}
	return nil
}

// UnindexBlock removes the entries of a rolled back block.
func (ix *Indexer) UnindexBlock(b *block.Block) error {
	if err := ix.store.Remove(entriesFor(b)); err != nil {
		return fmt.Errorf("unindex block %d: %w", b.Header.Index, err)
	}
	return nil
}

// Rebuild clears the index and re-indexes the canonical chain.
func (ix *Indexer) Rebuild(headers []block.BlockHeader, loader BlockLoader) error {
	if err := ix.store.Clear(); err != nil {
		return fmt.Errorf("clear address index: %w", err)
	}
	for _, h := range headers {
		b, err := loader.Load(h.Index)
		if err != nil {
			return fmt.Errorf("load block %d: %w", h.Index, err)
		}
		if b == nil || b.Header.Hash != h.Hash {
			return fmt.Errorf("block %d missing from store", h.Index)
		}
		if err := ix.IndexBlock(b); err != nil {
			return err
		}
	}
	logx.Info("ADDR_INDEX", fmt.Sprintf("Rebuilt address index over %d blocks", len(headers)))
	return nil
}

// Transactions lists the index entries for address.
func (ix *Indexer) Transactions(address string) ([]store.AddressEntry, error) {
	return ix.store.ByAddress(address)
}
