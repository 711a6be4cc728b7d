package fork

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/chain"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/consensus"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/events"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
	"github.com/mezonai/mmnchain/transaction"
	"github.com/mezonai/mmnchain/validator"
)

// ForkOutcome is what HandleFork did with a block that does not extend the tip.
type ForkOutcome int

const (
	// StoredPendingMoreData: the block is pooled until its ancestors arrive.
	StoredPendingMoreData ForkOutcome = iota
	// NoOp: the block is known or its branch does not carry more work.
	NoOp
	// Reorganized: the canonical chain now ends in the block's branch.
	Reorganized
)

func (o ForkOutcome) String() string {
	switch o {
	case StoredPendingMoreData:
		return "stored_pending_more_data"
	case NoOp:
		return "noop"
	case Reorganized:
		return "reorganized"
	default:
		return fmt.Sprintf("ForkOutcome(%d)", int(o))
	}
}

// Finality gates reorgs. It is consulted under the chain lock and must not
// take it.
type Finality interface {
	CanReorgToHeight(forkPoint uint64) bool
	Snapshot() *consensus.Snapshot
	Restore(s *consensus.Snapshot) error
}

// ChainValidator validates a candidate chain and its block bodies.
type ChainValidator interface {
	ValidateChain(headers []block.BlockHeader, full bool) error
	ValidateBlock(b *block.Block, parent *block.BlockHeader) error
}

// Options are the optional collaborators of a Manager.
type Options struct {
	Finality  Finality
	Validator ChainValidator
	Events    *events.EventBus
	WAL       *WAL
}

// Manager builds candidate chains out of the orphan pool and switches the
// processor to one when it carries strictly more work.
type Manager struct {
	processor     *chain.Processor
	orphans       *chain.OrphanPool
	validator     ChainValidator
	finality      Finality
	wal           *WAL
	events        *events.EventBus
	maxReorgDepth uint64
}

func NewManager(cfg config.ChainConfig, processor *chain.Processor, opts Options) *Manager {
	m := &Manager{
		processor:     processor,
		orphans:       processor.Orphans(),
		validator:     opts.Validator,
		finality:      opts.Finality,
		wal:           opts.WAL,
		events:        opts.Events,
		maxReorgDepth: cfg.MaxReorgDepth,
	}
	if m.validator == nil {
		m.validator = validator.NewChainValidator(cfg.CoinbaseReward)
	}
	if m.wal == nil {
		m.wal = NewWAL(cfg.DataDir)
	}
	return m
}

func (m *Manager) WAL() *WAL {
	return m.wal
}

// ChainWork is Σ 2^difficulty over headers.
func ChainWork(headers []block.BlockHeader) *uint256.Int {
	return block.ChainWork(headers)
}

// HandleFork pools b, prunes the pool and tries to splice a candidate chain
// ending in b. The candidate replaces the canonical chain only when its work
// is strictly greater.
func (m *Manager) HandleFork(b *block.Block) (ForkOutcome, error) {
	g := m.processor.Guard()
	defer g.Release()

	if g.Contains(&b.Header) {
		return NoOp, nil
	}
	m.orphans.Add(b)
	if tip, ok := g.HeaderAt(uint64(g.Len() - 1)); ok {
		m.orphans.Prune(tip.Index)
	}

	candidate, ok := m.buildCandidateLocked(g, &b.Header)
	if !ok {
		logx.Debug("FORK", fmt.Sprintf("Block %d hash=%s waits for its ancestors", b.Header.Index, b.Header.Hash.Short()))
		return StoredPendingMoreData, nil
	}

	replaced, err := m.replaceLocked(g, candidate)
	if err != nil {
		return NoOp, err
	}
	if !replaced {
		return NoOp, nil
	}
	return Reorganized, nil
}

// buildCandidateLocked walks back from h through canonical headers first and
// orphans second. ok is false when an ancestor is missing.
func (m *Manager) buildCandidateLocked(g *chain.Guard, h *block.BlockHeader) ([]block.BlockHeader, bool) {
	branch := []block.BlockHeader{*h}
	cur := *h
	for {
		if cur.Index == 0 {
			return nil, false
		}
		parentIndex := cur.Index - 1
		if canonical, ok := g.HeaderAt(parentIndex); ok && canonical.Hash == cur.PreviousHash {
			headers := g.Headers()
			candidate := make([]block.BlockHeader, 0, int(parentIndex)+1+len(branch))
			candidate = append(candidate, headers[:parentIndex+1]...)
			for i := len(branch) - 1; i >= 0; i-- {
				candidate = append(candidate, branch[i])
			}
			return candidate, true
		}
		parent := m.orphans.Find(parentIndex, cur.PreviousHash)
		if parent == nil {
			return nil, false
		}
		branch = append(branch, parent.Header)
		cur = parent.Header
	}
}

// ReplaceChain switches to candidate if it carries strictly more work than
// the canonical chain. It returns false without error when it does not.
func (m *Manager) ReplaceChain(candidate []block.BlockHeader) (bool, error) {
	g := m.processor.Guard()
	defer g.Release()
	return m.replaceLocked(g, candidate)
}

func (m *Manager) replaceLocked(g *chain.Guard, candidate []block.BlockHeader) (bool, error) {
	if entry, err := m.wal.Read(); err != nil {
		return false, chainerrors.Storage("failed to read reorg wal", err)
	} else if entry != nil && entry.Status == WALInProgress {
		return false, chainerrors.ReorgAbort(chainerrors.ErrCodeReorgAlreadyInFlight, chainerrors.ErrMsgReorgAlreadyInFlight, nil)
	}

	current := g.Headers()
	if len(candidate) == 0 || !ChainWork(candidate).Gt(g.ChainWork()) {
		return false, nil
	}

	forkPoint, ok := findForkPoint(current, candidate)
	if !ok {
		return false, m.abort(chainerrors.ReorgAbort(chainerrors.ErrCodeForkPointNotFound, chainerrors.ErrMsgForkPointNotFound, nil))
	}
	depth := uint64(len(current)) - forkPoint - 1
	if depth > m.maxReorgDepth {
		return false, m.abort(chainerrors.ReorgAbort(chainerrors.ErrCodeReorgDepthExceeded,
			fmt.Sprintf("%s: %d > %d", chainerrors.ErrMsgReorgDepthExceeded, depth, m.maxReorgDepth), nil))
	}
	if m.finality != nil && !m.finality.CanReorgToHeight(forkPoint) {
		return false, m.abort(chainerrors.ReorgAbort(chainerrors.ErrCodeReorgCrossesFinality,
			fmt.Sprintf("%s: fork point %d", chainerrors.ErrMsgReorgCrossesFinality, forkPoint), nil))
	}

	if err := m.validator.ValidateChain(candidate, true); err != nil {
		return false, m.abort(chainerrors.ReorgAbort(chainerrors.ErrCodeCandidateInvalid, chainerrors.ErrMsgCandidateInvalid, err))
	}
	bodies, err := m.loadBodies(candidate[forkPoint+1:])
	if err != nil {
		return false, m.abort(err)
	}
	for i, b := range bodies {
		if err := m.validator.ValidateBlock(b, &candidate[int(forkPoint)+i]); err != nil {
			return false, m.abort(chainerrors.ReorgAbort(chainerrors.ErrCodeCandidateInvalid,
				fmt.Sprintf("%s: block %d", chainerrors.ErrMsgCandidateInvalid, b.Header.Index), err))
		}
	}

	oldTip := current[len(current)-1]
	newTip := candidate[len(candidate)-1]
	var snapshot *consensus.Snapshot
	if m.finality != nil {
		snapshot = m.finality.Snapshot()
	}
	entry := WALEntry{
		OldTipHash: oldTip.Hash,
		NewTipHash: newTip.Hash,
		ForkPoint:  forkPoint,
		OldHeight:  oldTip.Index,
		NewHeight:  newTip.Index,
	}
	if err := m.wal.Begin(entry); err != nil {
		return false, m.abort(chainerrors.Storage("failed to write reorg wal", err))
	}
	logx.Info("FORK", fmt.Sprintf("Reorganizing: fork_point=%d depth=%d old_tip=%s new_tip=%s",
		forkPoint, depth, oldTip.Hash.Short(), newTip.Hash.Short()))

	removed, err := g.Truncate(int(forkPoint) + 1)
	if err != nil {
		return false, m.compensateLocked(g, len(current), removed, snapshot, err)
	}
	for _, b := range bodies {
		if err := g.ApplyBlock(b); err != nil {
			cause := chainerrors.ReorgAbort(chainerrors.ErrCodeApplyFailed,
				fmt.Sprintf("%s: %d", chainerrors.ErrMsgApplyFailed, b.Header.Index), err)
			return false, m.compensateLocked(g, len(current), removed, snapshot, cause)
		}
	}

	if err := m.wal.Commit(entry); err != nil {
		// the chain is consistent; a stale InProgress entry only costs a replay at startup
		logx.Error("REORG_WAL", "Failed to commit reorg wal: ", err)
	}
	for _, b := range bodies {
		m.orphans.Remove(b.Header.Index, b.Header.Hash)
	}
	m.returnToMempool(removed, bodies)

	monitoring.RecordReorg(depth)
	m.events.Publish(events.NewChainReorganized(oldTip.Hash, newTip.Hash, forkPoint, depth, newTip.Index))
	logx.Info("FORK", fmt.Sprintf("Reorganized to %s height=%d, rolled back %d blocks", newTip.Hash.Short(), newTip.Index, len(removed)))

	g.ProcessOrphans()
	return true, nil
}

// findForkPoint returns the highest index where both chains agree.
func findForkPoint(current, candidate []block.BlockHeader) (uint64, bool) {
	n := len(current)
	if len(candidate) < n {
		n = len(candidate)
	}
	for i := n - 1; i >= 0; i-- {
		if current[i].Hash == candidate[i].Hash {
			return uint64(i), true
		}
	}
	return 0, false
}

// loadBodies fetches each header's block from the orphan pool, falling back
// to the block store.
func (m *Manager) loadBodies(headers []block.BlockHeader) ([]*block.Block, error) {
	bodies := make([]*block.Block, 0, len(headers))
	for _, h := range headers {
		b := m.orphans.Find(h.Index, h.Hash)
		if b == nil {
			stored, err := m.processor.BlockStore().LoadByHash(h.Hash)
			if err != nil {
				return nil, chainerrors.ReorgAbort(chainerrors.ErrCodeBlockLoadFailed,
					fmt.Sprintf("%s: %d", chainerrors.ErrMsgBlockLoadFailed, h.Index), err)
			}
			b = stored
		}
		if b == nil || b.Header.Hash != h.Hash {
			return nil, chainerrors.ReorgAbort(chainerrors.ErrCodeBlockLoadFailed,
				fmt.Sprintf("%s: %d", chainerrors.ErrMsgBlockLoadFailed, h.Index), nil)
		}
		bodies = append(bodies, b)
	}
	return bodies, nil
}

// compensateLocked undoes a failed reorg: candidate blocks applied so far are
// truncated, the removed canonical blocks re-applied and the finality
// snapshot restored. Only then is the WAL cleared; if any step fails it is
// left InProgress for startup recovery.
func (m *Manager) compensateLocked(g *chain.Guard, originalLen int, removed []*block.Block, snapshot *consensus.Snapshot, cause error) error {
	monitoring.IncreaseReorgFailures()
	monitoring.RecordRejectedBlock(monitoring.BlockReorgAborted)
	logx.Error("FORK", "Reorg failed, restoring previous chain: ", chainerrors.Detail(cause))

	base := originalLen - len(removed)
	err := func() error {
		if g.Len() > base {
			if _, err := g.Truncate(base); err != nil {
				return err
			}
		}
		for _, b := range removed {
			if err := g.ApplyBlock(b); err != nil {
				return err
			}
		}
		if m.finality != nil && snapshot != nil {
			if err := m.finality.Restore(snapshot); err != nil {
				return err
			}
		}
		return m.wal.Clear()
	}()
	if err != nil {
		logx.Error("FORK", "Compensation failed, wal left for recovery: ", chainerrors.Detail(err))
		return chainerrors.ReorgAbort(chainerrors.ErrCodeCompensationFailed, chainerrors.ErrMsgCompensationFailed, err)
	}
	return cause
}

func (m *Manager) abort(err error) error {
	monitoring.IncreaseReorgFailures()
	monitoring.RecordRejectedBlock(monitoring.BlockReorgAborted)
	logx.Warn("FORK", "Reorg aborted: ", chainerrors.Detail(err))
	return err
}

// returnToMempool re-queues transactions of rolled back blocks that the new
// branch did not include and whose inputs are still unspent.
func (m *Manager) returnToMempool(removed, applied []*block.Block) {
	mp := m.processor.Mempool()
	if mp == nil || len(removed) == 0 {
		return
	}
	included := make(map[string]struct{})
	for _, b := range applied {
		for _, tx := range b.Transactions {
			included[tx.Hash()] = struct{}{}
		}
	}
	var txs []*transaction.Transaction
	for _, b := range removed {
		for _, tx := range b.Transactions {
			if tx.IsSystem() {
				continue
			}
			if _, ok := included[tx.Hash()]; ok {
				continue
			}
			if !m.inputsUnspent(tx) {
				continue
			}
			txs = append(txs, tx)
		}
	}
	if len(txs) > 0 {
		mp.ReturnTransactions(txs)
	}
}

func (m *Manager) inputsUnspent(tx *transaction.Transaction) bool {
	for _, in := range tx.Inputs {
		u, err := m.processor.Ledger().GetUTXO(in.PrevOut)
		if err != nil || u == nil {
			return false
		}
	}
	return true
}

// Recover resolves a WAL left by an earlier run. A committed entry is
// cleared. An InProgress entry means the process stopped mid-reorg: the
// ledger is rebuilt from the loaded chain before the entry is cleared.
func (m *Manager) Recover() error {
	entry, err := m.wal.Read()
	if err != nil {
		return chainerrors.Storage("failed to read reorg wal", err)
	}
	if entry == nil {
		return nil
	}
	if entry.Status == WALInProgress {
		logx.Warn("FORK", fmt.Sprintf("Recovering interrupted reorg: fork_point=%d old_tip=%s new_tip=%s",
			entry.ForkPoint, entry.OldTipHash.Short(), entry.NewTipHash.Short()))
		if err := m.processor.RebuildState(); err != nil {
			return err
		}
	}
	if err := m.wal.Clear(); err != nil {
		return chainerrors.Storage("failed to clear reorg wal", err)
	}
	logx.Info("FORK", "Reorg wal resolved, status was ", entry.Status)
	return nil
}
