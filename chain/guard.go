package chain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
)

// Guard is a held chain lock. Multi-step operations such as a reorg take one
// so no block is added between their steps. Release must be called exactly once.
type Guard struct {
	p        *Processor
	released bool
}

// Guard acquires the chain lock.
func (p *Processor) Guard() *Guard {
	p.mu.Lock()
	return &Guard{p: p}
}

func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.p.mu.Unlock()
}

// Headers returns a copy of the canonical chain.
func (g *Guard) Headers() []block.BlockHeader {
	return append([]block.BlockHeader(nil), g.p.chain...)
}

func (g *Guard) Len() int {
	return len(g.p.chain)
}

func (g *Guard) ChainWork() *uint256.Int {
	return new(uint256.Int).Set(g.p.work)
}

// Contains reports whether h is on the canonical chain.
func (g *Guard) Contains(h *block.BlockHeader) bool {
	return g.p.containsLocked(h)
}

// HeaderAt returns the canonical header at index.
func (g *Guard) HeaderAt(index uint64) (block.BlockHeader, bool) {
	if index >= uint64(len(g.p.chain)) {
		return block.BlockHeader{}, false
	}
	return g.p.chain[index], true
}

// ApplyBlock runs the apply primitive on a block already validated by the caller.
func (g *Guard) ApplyBlock(b *block.Block) error {
	return g.p.addBlockLocked(b)
}

// ProcessOrphans promotes orphans that connect to the current tip.
func (g *Guard) ProcessOrphans() int {
	return g.p.processOrphansLocked()
}

// Truncate rolls the chain back to length n. Blocks are reverted from the
// tip down, each loaded from the block store; the removed blocks are
// returned in ascending order. On error the chain is left at the last
// block that reverted cleanly and the blocks removed so far are returned.
func (g *Guard) Truncate(n int) ([]*block.Block, error) {
	p := g.p
	if n < 1 {
		return nil, chainerrors.Validation(chainerrors.ErrCodeInvalidBlock, "cannot truncate the genesis block")
	}
	var removed []*block.Block
	for len(p.chain) > n {
		h := p.chain[len(p.chain)-1]
		b, err := p.loadCanonicalLocked(h)
		if err == nil {
			err = p.ledger.RevertBlock(b)
		}
		if err != nil {
			reverse(removed)
			return removed, chainerrors.Wrap(chainerrors.KindReorgAbort, chainerrors.ErrCodeRollbackFailed,
				fmt.Sprintf("%s: %d", chainerrors.ErrMsgRollbackFailed, h.Index), err)
		}

		p.chain = p.chain[:len(p.chain)-1]
		p.work.Sub(p.work, block.WorkOfHeader(&h).Work())
		removed = append(removed, b)

		if p.addrIndex != nil {
			if err := p.addrIndex.UnindexBlock(b); err != nil {
				logx.Warn("ADDR_INDEX", "Failed to unindex block ", h.Index, ": ", err)
			}
		}
		if err := p.blocks.SetTip(h.Index - 1); err != nil {
			logx.Error("BLOCKSTORE", "Failed to persist chain tip ", h.Index-1, ": ", err)
		}
		logx.Info("CHAIN", fmt.Sprintf("Rolled back block %d hash=%s", h.Index, h.Hash.Short()))
	}
	if p.checkpoints != nil && len(removed) > 0 {
		if err := p.checkpoints.DiscardAbove(uint64(n - 1)); err != nil {
			logx.Warn("CHECKPOINT", "Failed to discard stale checkpoints: ", err)
		}
	}
	monitoring.SetBlockHeight(p.tipIndexLocked())
	monitoring.SetChainWork(p.work)
	reverse(removed)
	return removed, nil
}

func reverse(blocks []*block.Block) {
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
}
