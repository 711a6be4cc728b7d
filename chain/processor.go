package chain

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/mezonai/mmnchain/addrindex"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/checkpoint"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/events"
	"github.com/mezonai/mmnchain/ledger"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/mempool"
	"github.com/mezonai/mmnchain/monitoring"
	"github.com/mezonai/mmnchain/store"
	"github.com/mezonai/mmnchain/validator"
)

// BlockValidator checks a block against its parent before it is applied.
type BlockValidator interface {
	ValidateBlock(b *block.Block, parent *block.BlockHeader) error
}

// Deps are the collaborators of a Processor. Blocks and Ledger are required;
// the rest may be nil.
type Deps struct {
	Blocks      store.BlockStore
	Ledger      *ledger.Ledger
	Mempool     *mempool.Mempool
	AddrIndex   *addrindex.Indexer
	Checkpoints *checkpoint.Service
	Validator   BlockValidator
	Orphans     *OrphanPool
	Events      *events.EventBus
	// GenesisSpec wins over GenesisPath; with neither the default allocation is mined.
	GenesisSpec *config.GenesisSpec
	GenesisPath string
}

// Processor owns the canonical header chain. Every structural mutation
// happens under its chain lock, taken either by a public method or through
// a Guard.
type Processor struct {
	mu    sync.Mutex
	chain []block.BlockHeader
	work  *uint256.Int

	blocks      store.BlockStore
	ledger      *ledger.Ledger
	mempool     *mempool.Mempool
	addrIndex   *addrindex.Indexer
	checkpoints *checkpoint.Service
	validator   BlockValidator
	orphans     *OrphanPool
	events      *events.EventBus

	genesisSpec *config.GenesisSpec
	genesisPath string
}

func NewProcessor(cfg config.ChainConfig, deps Deps) (*Processor, error) {
	if deps.Blocks == nil || deps.Ledger == nil {
		return nil, chainerrors.Configuration(chainerrors.ErrCodeInvalidConfig, "processor requires a block store and a ledger")
	}
	p := &Processor{
		work:        uint256.NewInt(0),
		blocks:      deps.Blocks,
		ledger:      deps.Ledger,
		mempool:     deps.Mempool,
		addrIndex:   deps.AddrIndex,
		checkpoints: deps.Checkpoints,
		validator:   deps.Validator,
		orphans:     deps.Orphans,
		events:      deps.Events,
		genesisSpec: deps.GenesisSpec,
		genesisPath: deps.GenesisPath,
	}
	if p.validator == nil {
		p.validator = validator.NewChainValidator(cfg.CoinbaseReward)
	}
	if p.orphans == nil {
		p.orphans = NewOrphanPool(cfg.OrphanMaxBlocks, cfg.OrphanMaxAge)
	}
	return p, nil
}

// CreateGenesisBlock builds the genesis block and applies it. The genesis parameters come
// from Deps.GenesisSpec, else the genesis file, else the default allocation.
// A locally mined nonce and hash are written back to the genesis file so a
// restart reproduces the same hash. Calling it on a chain that already has
// the same genesis is a no-op.
func (p *Processor) CreateGenesisBlock() (*block.Block, error) {
	spec, err := p.resolveGenesisSpec()
	if err != nil {
		return nil, err
	}
	genesis, mined, err := block.BuildGenesis(spec)
	if err != nil {
		return nil, chainerrors.Wrap(chainerrors.KindValidation, chainerrors.ErrCodeInvalidBlock, "genesis could not be built", err)
	}
	if mined && p.genesisPath != "" {
		block.RecordMined(spec, genesis)
		if err := config.SaveGenesisSpec(p.genesisPath, spec); err != nil {
			logx.Error("GENESIS", "Failed to write back mined genesis: ", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.chain) > 0 {
		if p.chain[0].Hash == genesis.Header.Hash {
			return genesis, nil
		}
		return nil, chainerrors.Validation(chainerrors.ErrCodeInvalidBlock,
			fmt.Sprintf("chain already has genesis %s, spec yields %s", p.chain[0].Hash, genesis.Header.Hash))
	}
	if err := p.addBlockLocked(genesis); err != nil {
		return nil, err
	}
	logx.Info("GENESIS", "Genesis block created: ", genesis.Header.Hash.String())
	return genesis, nil
}

func (p *Processor) resolveGenesisSpec() (*config.GenesisSpec, error) {
	if p.genesisSpec != nil {
		return p.genesisSpec, nil
	}
	if p.genesisPath != "" {
		spec, err := config.LoadGenesisSpec(p.genesisPath)
		if err == nil {
			return spec, nil
		}
		if !config.IsNotExist(err) {
			return nil, chainerrors.Wrap(chainerrors.KindConfiguration, chainerrors.ErrCodeInvalidConfig, "genesis file is invalid", err)
		}
		logx.Info("GENESIS", "No genesis file at ", p.genesisPath, ", using default allocation")
	}
	return block.DefaultGenesisSpec(), nil
}

// AddBlockToChain applies an already validated block on top of the tip.
func (p *Processor) AddBlockToChain(b *block.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addBlockLocked(b)
}

// addBlockLocked is the single apply primitive. Ledger effects commit in one
// batch before the header is appended, so a failure leaves no trace. Mempool
// cleanup, indexing, persistence and checkpointing follow; only the latter
// three are best effort.
func (p *Processor) addBlockLocked(b *block.Block) error {
	if err := p.checkExtendsTipLocked(&b.Header); err != nil {
		return err
	}
	if err := p.ledger.ApplyBlock(b); err != nil {
		monitoring.RecordRejectedBlock(monitoring.BlockApplyFailed)
		return err
	}

	p.chain = append(p.chain, b.Header)
	p.work.Add(p.work, block.WorkOfBlock(b).Work())

	if p.mempool != nil {
		p.mempool.RemoveMined(b)
	}
	if p.addrIndex != nil {
		if err := p.addrIndex.IndexBlock(b); err != nil {
			logx.Warn("ADDR_INDEX", "Failed to index block ", b.Header.Index, ": ", err)
		}
	}
	if err := p.blocks.Save(b); err != nil {
		logx.Error("BLOCKSTORE", "Failed to persist block ", b.Header.Index, ": ", err)
	} else if err := p.blocks.SetTip(b.Header.Index); err != nil {
		logx.Error("BLOCKSTORE", "Failed to persist chain tip ", b.Header.Index, ": ", err)
	}
	if p.checkpoints != nil {
		if _, err := p.checkpoints.MaybeCreateCheckpoint(b.Header.Index, p.chain); err != nil {
			logx.Warn("CHECKPOINT", "Checkpoint at ", b.Header.Index, " failed: ", err)
		}
	}

	monitoring.SetBlockHeight(b.Header.Index)
	monitoring.SetChainWork(p.work)
	monitoring.RecordTxInBlock(len(b.Transactions))
	p.events.Publish(events.NewBlockAdded(b))
	logx.Info("CHAIN", fmt.Sprintf("Added block %d hash=%s txs=%d", b.Header.Index, b.Header.Hash.Short(), len(b.Transactions)))
	return nil
}

func (p *Processor) checkExtendsTipLocked(h *block.BlockHeader) error {
	if len(p.chain) == 0 {
		if h.Index != 0 || !h.PreviousHash.IsZero() {
			return chainerrors.Validation(chainerrors.ErrCodeNotContiguous, "first block must be a genesis block")
		}
		return nil
	}
	tip := p.chain[len(p.chain)-1]
	if h.Index != tip.Index+1 || h.PreviousHash != tip.Hash {
		return chainerrors.Validation(chainerrors.ErrCodeNotContiguous,
			fmt.Sprintf("%s: block %d does not extend tip %d", chainerrors.ErrMsgNotContiguous, h.Index, tip.Index))
	}
	return nil
}

// ExtendsTip reports whether h links directly onto the current tip.
func (p *Processor) ExtendsTip(h *block.BlockHeader) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chain) > 0 && p.checkExtendsTipLocked(h) == nil
}

// ProcessBlock validates b against the tip and applies it, then promotes any
// orphans that now connect. A block already on the chain is accepted as a
// no-op; a block that does not extend the tip is rejected untouched.
func (p *Processor) ProcessBlock(b *block.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.containsLocked(&b.Header) {
		return nil
	}
	if err := p.validateAndAddLocked(b); err != nil {
		return err
	}
	p.processOrphansLocked()
	return nil
}

func (p *Processor) validateAndAddLocked(b *block.Block) error {
	if err := p.checkExtendsTipLocked(&b.Header); err != nil {
		return err
	}
	var parent *block.BlockHeader
	if len(p.chain) > 0 {
		parent = &p.chain[len(p.chain)-1]
	}
	if err := p.validator.ValidateBlock(b, parent); err != nil {
		monitoring.RecordRejectedBlock(monitoring.BlockInvalid)
		logx.Warn("CHAIN", "Rejected block ", b.Header.Index, ": ", chainerrors.Detail(err))
		return err
	}
	return p.addBlockLocked(b)
}

func (p *Processor) containsLocked(h *block.BlockHeader) bool {
	return h.Index < uint64(len(p.chain)) && p.chain[h.Index].Hash == h.Hash
}

// ProcessOrphanBlocks promotes orphans that extend the tip, lowest height
// first, until none connects. It returns how many were added.
func (p *Processor) ProcessOrphanBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processOrphansLocked()
}

func (p *Processor) processOrphansLocked() int {
	added := 0
	for progress := true; progress; {
		progress = false
		for _, h := range p.orphans.Heights() {
			for _, orphan := range p.orphans.AtHeight(h) {
				if p.containsLocked(&orphan.Header) {
					p.orphans.Remove(h, orphan.Header.Hash)
					continue
				}
				if len(p.chain) == 0 || orphan.Header.PreviousHash != p.chain[len(p.chain)-1].Hash {
					continue
				}
				if err := p.validateAndAddLocked(orphan); err != nil {
					logx.Warn("ORPHAN", "Dropping orphan ", h, ": ", chainerrors.Detail(err))
					p.orphans.Remove(h, orphan.Header.Hash)
					continue
				}
				p.orphans.Remove(h, orphan.Header.Hash)
				added++
				progress = true
			}
		}
	}
	if added > 0 {
		logx.Info("ORPHAN", fmt.Sprintf("Promoted %d orphan blocks", added))
	}
	return added
}

// PruneOrphanBlocks applies the orphan pool's age and size policy against
// the current tip. It returns how many orphans were evicted.
func (p *Processor) PruneOrphanBlocks() int {
	p.mu.Lock()
	tip := p.tipIndexLocked()
	p.mu.Unlock()

	pruned := p.orphans.Prune(tip)
	if pruned > 0 {
		logx.Info("ORPHAN", fmt.Sprintf("Pruned %d orphan blocks", pruned))
	}
	return pruned
}

func (p *Processor) tipIndexLocked() uint64 {
	if len(p.chain) == 0 {
		return 0
	}
	return p.chain[len(p.chain)-1].Index
}

// LoadChain restores the header chain from the block store. Blocks past the
// longest contiguous prefix are dropped and the stored tip is rewritten.
// When the UTXO set was committed for a different height than the loaded
// tip, as after a crash between the ledger commit and the block write, the
// ledger is rebuilt from the chain. loaded is false on an empty store.
func (p *Processor) LoadChain() (loaded bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tip, found, err := p.blocks.Tip()
	if err != nil {
		return false, chainerrors.Storage("failed to read chain tip", err)
	}
	if !found {
		return false, nil
	}

	headers := make([]block.BlockHeader, 0, tip+1)
	work := uint256.NewInt(0)
	for i := uint64(0); i <= tip; i++ {
		b, err := p.blocks.Load(i)
		if err != nil {
			return false, chainerrors.Storage(fmt.Sprintf("failed to load block %d", i), err)
		}
		if b == nil || !linksTo(headers, &b.Header) {
			logx.Warn("CHAIN", fmt.Sprintf("Stored chain breaks at %d, truncating to %d blocks", i, len(headers)))
			break
		}
		headers = append(headers, b.Header)
		work.Add(work, block.WorkOfBlock(b).Work())
	}
	if len(headers) == 0 {
		return false, nil
	}
	if uint64(len(headers)) != tip+1 {
		if err := p.blocks.SetTip(uint64(len(headers) - 1)); err != nil {
			return false, chainerrors.Storage("failed to rewrite chain tip", err)
		}
	}

	p.chain = headers
	p.work = work

	ledgerHeight, hasHeight, err := p.ledger.Height()
	if err != nil {
		return false, chainerrors.Storage("failed to read ledger height", err)
	}
	if tipIndex := p.tipIndexLocked(); !hasHeight || ledgerHeight != tipIndex {
		logx.Warn("CHAIN", fmt.Sprintf("Ledger height %d (found=%v) disagrees with tip %d, rebuilding", ledgerHeight, hasHeight, tipIndex))
		if err := p.rebuildStateLocked(); err != nil {
			return false, err
		}
	}
	if p.checkpoints != nil {
		if err := p.checkpoints.Verify(p.chain); err != nil {
			logx.Warn("CHECKPOINT", "Stored chain disagrees with checkpoints: ", err)
		}
	}
	monitoring.SetBlockHeight(p.tipIndexLocked())
	monitoring.SetChainWork(p.work)
	logx.Info("CHAIN", fmt.Sprintf("Loaded %d blocks, tip=%s", len(p.chain), p.chain[len(p.chain)-1].Hash.Short()))
	return true, nil
}

func linksTo(chain []block.BlockHeader, h *block.BlockHeader) bool {
	if len(chain) == 0 {
		return h.Index == 0 && h.PreviousHash.IsZero()
	}
	parent := chain[len(chain)-1]
	return h.Index == parent.Index+1 && h.PreviousHash == parent.Hash
}

// RebuildState replays the whole chain into an empty ledger and rebuilds
// the address index.
func (p *Processor) RebuildState() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rebuildStateLocked()
}

func (p *Processor) rebuildStateLocked() error {
	if err := p.ledger.Reset(); err != nil {
		return err
	}
	for _, h := range p.chain {
		b, err := p.loadCanonicalLocked(h)
		if err != nil {
			return err
		}
		if err := p.ledger.ApplyBlock(b); err != nil {
			return chainerrors.Wrap(chainerrors.KindStorage, chainerrors.ErrCodeApplyFailed,
				fmt.Sprintf("replay of block %d failed", h.Index), err)
		}
	}
	if p.addrIndex != nil {
		if err := p.addrIndex.Rebuild(p.chain, p.blocks); err != nil {
			logx.Warn("ADDR_INDEX", "Rebuild failed: ", err)
		}
	}
	logx.Info("CHAIN", fmt.Sprintf("Rebuilt UTXO state from %d blocks", len(p.chain)))
	return nil
}

func (p *Processor) loadCanonicalLocked(h block.BlockHeader) (*block.Block, error) {
	b, err := p.blocks.Load(h.Index)
	if err != nil {
		return nil, chainerrors.Storage(fmt.Sprintf("failed to load block %d", h.Index), err)
	}
	if b == nil || b.Header.Hash != h.Hash {
		return nil, chainerrors.NewError(chainerrors.KindStorage, chainerrors.ErrCodeBlockLoadFailed,
			fmt.Sprintf("%s: %d", chainerrors.ErrMsgBlockLoadFailed, h.Index))
	}
	return b, nil
}

// Headers returns a copy of the canonical chain.
func (p *Processor) Headers() []block.BlockHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]block.BlockHeader(nil), p.chain...)
}

// Tip returns the last header, ok=false on an empty chain.
func (p *Processor) Tip() (block.BlockHeader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chain) == 0 {
		return block.BlockHeader{}, false
	}
	return p.chain[len(p.chain)-1], true
}

func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chain)
}

// ChainWork returns the cumulative work of the canonical chain.
func (p *Processor) ChainWork() *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.work)
}

// Contains reports whether h is on the canonical chain.
func (p *Processor) Contains(h *block.BlockHeader) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.containsLocked(h)
}

// LoadBlock returns the stored body of canonical block index.
func (p *Processor) LoadBlock(index uint64) (*block.Block, error) {
	return p.blocks.Load(index)
}

func (p *Processor) Orphans() *OrphanPool {
	return p.orphans
}

func (p *Processor) Ledger() *ledger.Ledger {
	return p.ledger
}

func (p *Processor) Mempool() *mempool.Mempool {
	return p.mempool
}

func (p *Processor) BlockStore() store.BlockStore {
	return p.blocks
}
