package chain

import (
	"sort"
	"sync"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/monitoring"
)

// OrphanPool holds blocks whose parent is not on the canonical chain yet,
// keyed by height since competing blocks can share one. It is shared by the
// block processor and the fork manager.
type OrphanPool struct {
	mu        sync.Mutex
	byHeight  map[uint64][]*block.Block
	count     int
	maxBlocks int
	maxAge    uint64
}

// NewOrphanPool creates a pool evicting blocks more than maxAge heights
// behind the tip and, above maxBlocks, the lowest heights first.
func NewOrphanPool(maxBlocks int, maxAge uint64) *OrphanPool {
	return &OrphanPool{
		byHeight:  make(map[uint64][]*block.Block),
		maxBlocks: maxBlocks,
		maxAge:    maxAge,
	}
}

// Add inserts b unless a block with the same hash is already pooled.
func (op *OrphanPool) Add(b *block.Block) bool {
	op.mu.Lock()
	defer op.mu.Unlock()

	h := b.Header.Index
	for _, existing := range op.byHeight[h] {
		if existing.Header.Hash == b.Header.Hash {
			return false
		}
	}
	op.byHeight[h] = append(op.byHeight[h], b)
	op.count++
	monitoring.SetOrphanPoolSize(op.count)
	return true
}

// AtHeight returns the pooled blocks at height.
func (op *OrphanPool) AtHeight(height uint64) []*block.Block {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]*block.Block(nil), op.byHeight[height]...)
}

// Find returns the pooled block at height with hash, or nil.
func (op *OrphanPool) Find(height uint64, hash block.Hash) *block.Block {
	op.mu.Lock()
	defer op.mu.Unlock()
	for _, b := range op.byHeight[height] {
		if b.Header.Hash == hash {
			return b
		}
	}
	return nil
}

// FindByHash searches every height.
func (op *OrphanPool) FindByHash(hash block.Hash) *block.Block {
	op.mu.Lock()
	defer op.mu.Unlock()
	for _, blocks := range op.byHeight {
		for _, b := range blocks {
			if b.Header.Hash == hash {
				return b
			}
		}
	}
	return nil
}

// Remove drops the block with hash at height.
func (op *OrphanPool) Remove(height uint64, hash block.Hash) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.removeLocked(height, hash)
}

func (op *OrphanPool) removeLocked(height uint64, hash block.Hash) bool {
	blocks := op.byHeight[height]
	for i, b := range blocks {
		if b.Header.Hash != hash {
			continue
		}
		blocks = append(blocks[:i], blocks[i+1:]...)
		if len(blocks) == 0 {
			delete(op.byHeight, height)
		} else {
			op.byHeight[height] = blocks
		}
		op.count--
		monitoring.SetOrphanPoolSize(op.count)
		return true
	}
	return false
}

// Heights lists occupied heights in ascending order.
func (op *OrphanPool) Heights() []uint64 {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.heightsLocked()
}

func (op *OrphanPool) heightsLocked() []uint64 {
	heights := make([]uint64, 0, len(op.byHeight))
	for h := range op.byHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

// Prune evicts orphans more than maxAge heights behind tipHeight, then the
// lowest heights until at most maxBlocks remain. It returns the number evicted.
func (op *OrphanPool) Prune(tipHeight uint64) int {
	op.mu.Lock()
	defer op.mu.Unlock()

	pruned := 0
	for _, h := range op.heightsLocked() {
		if op.maxAge == 0 || tipHeight <= h || tipHeight-h <= op.maxAge {
			continue
		}
		pruned += len(op.byHeight[h])
		op.count -= len(op.byHeight[h])
		delete(op.byHeight, h)
	}

	if op.maxBlocks > 0 {
		for _, h := range op.heightsLocked() {
			if op.count <= op.maxBlocks {
				break
			}
			blocks := op.byHeight[h]
			excess := op.count - op.maxBlocks
			if excess >= len(blocks) {
				delete(op.byHeight, h)
				op.count -= len(blocks)
				pruned += len(blocks)
				continue
			}
			op.byHeight[h] = blocks[excess:]
			op.count -= excess
			pruned += excess
		}
	}

	if pruned > 0 {
		monitoring.SetOrphanPoolSize(op.count)
		monitoring.AddOrphansPruned(pruned)
	}
	return pruned
}

func (op *OrphanPool) Len() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.count
}
