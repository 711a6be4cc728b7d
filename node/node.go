package node

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mezonai/mmnchain/addrindex"
	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/chain"
	"github.com/mezonai/mmnchain/checkpoint"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/consensus"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/events"
	"github.com/mezonai/mmnchain/fork"
	"github.com/mezonai/mmnchain/ledger"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/mempool"
	"github.com/mezonai/mmnchain/monitoring"
	"github.com/mezonai/mmnchain/store"
	"github.com/mezonai/mmnchain/transaction"
)

// Options carry what does not live in chain.ini.
type Options struct {
	GenesisPath string
	GenesisSpec *config.GenesisSpec
	// Validators enables finality; without them votes are refused.
	Validators    []config.ValidatorConfig
	OnMisbehavior func(consensus.Evidence)
}

// Node wires the block processor, fork manager and finality manager over
// one set of stores.
type Node struct {
	cfg      *config.NodeConfig
	stores   *store.Stores
	ledger   *ledger.Ledger
	mempool  *mempool.Mempool
	events   *events.EventBus
	chain    *chain.Processor
	forks    *fork.Manager
	finality *consensus.FinalityManager
}

// Open builds every component, loads the persisted chain, resolves an
// interrupted reorg and creates the genesis block on an empty store.
func Open(cfg *config.NodeConfig, opts Options) (*Node, error) {
	storeCfg := cfg.Store
	if storeCfg.Directory == "" {
		storeCfg.Directory = filepath.Join(cfg.Chain.DataDir, "db")
	}
	stores, err := store.OpenStores(storeCfg)
	if err != nil {
		return nil, chainerrors.Storage("failed to open stores", err)
	}
	n, err := open(cfg, stores, opts)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return n, nil
}

func open(cfg *config.NodeConfig, stores *store.Stores, opts Options) (*Node, error) {
	bus := events.NewEventBus()
	l := ledger.NewLedger(stores.UTXOs)

	blacklist := mempool.NewBlacklist(cfg.Chain.DataDir)
	if err := blacklist.Load(); err != nil {
		logx.Warn("NODE", "Continuing without blacklist: ", err)
	}
	mp := mempool.NewMempool(cfg.Mempool, l, blacklist)

	var fm *consensus.FinalityManager
	if len(opts.Validators) > 0 {
		var err error
		fm, err = consensus.NewFinalityManager(consensus.Options{
			Validators:    opts.Validators,
			Threshold:     cfg.Finality.Threshold,
			Domain:        cfg.Finality.Domain,
			DataDir:       cfg.Chain.DataDir,
			OnMisbehavior: opts.OnMisbehavior,
			Events:        bus,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logx.Warn("NODE", "No validator roster configured, finality disabled")
	}

	processor, err := chain.NewProcessor(cfg.Chain, chain.Deps{
		Blocks:      stores.Blocks,
		Ledger:      l,
		Mempool:     mp,
		AddrIndex:   addrindex.NewIndexer(stores.AddrIndex),
		Checkpoints: checkpoint.NewService(stores.Checkpoints, cfg.Chain.CheckpointInterval),
		Events:      bus,
		GenesisSpec: opts.GenesisSpec,
		GenesisPath: opts.GenesisPath,
	})
	if err != nil {
		return nil, err
	}

	forkOpts := fork.Options{Events: bus}
	if fm != nil {
		forkOpts.Finality = fm
	}
	forks := fork.NewManager(cfg.Chain, processor, forkOpts)

	if _, err := processor.LoadChain(); err != nil {
		return nil, err
	}
	if err := forks.Recover(); err != nil {
		return nil, err
	}
	genesis, err := processor.CreateGenesisBlock()
	if err != nil {
		return nil, err
	}

	tip, _ := processor.Tip()
	logx.Info("NODE", fmt.Sprintf("Node ready: genesis=%s height=%d work=%s",
		genesis.Header.Hash, tip.Index, processor.ChainWork().Dec()))
	return &Node{
		cfg:      cfg,
		stores:   stores,
		ledger:   l,
		mempool:  mp,
		events:   bus,
		chain:    processor,
		forks:    forks,
		finality: fm,
	}, nil
}

// ReceiveBlock routes a block: one extending the tip goes to the processor,
// anything else to the fork manager. extended reports the first case.
func (n *Node) ReceiveBlock(b *block.Block) (extended bool, outcome fork.ForkOutcome, err error) {
	if n.chain.Contains(&b.Header) {
		return false, fork.NoOp, nil
	}
	if n.chain.ExtendsTip(&b.Header) {
		err := n.chain.ProcessBlock(b)
		if err == nil {
			return true, fork.NoOp, nil
		}
		if !chainerrors.HasCode(err, chainerrors.ErrCodeNotContiguous) {
			return false, fork.NoOp, err
		}
		// the tip moved under us
	}
	outcome, err = n.forks.HandleFork(b)
	return false, outcome, err
}

// SubmitTransaction queues tx in the mempool.
func (n *Node) SubmitTransaction(tx *transaction.Transaction) error {
	if err := n.mempool.Add(tx); err != nil {
		return err
	}
	monitoring.SetMempoolSize(n.mempool.Len())
	return nil
}

// SubmitVote records a validator's signature over header.
func (n *Node) SubmitVote(address string, header *block.BlockHeader, signature string) (*consensus.Certificate, error) {
	if n.finality == nil {
		return nil, chainerrors.Configuration(chainerrors.ErrCodeEmptyValidatorSet, chainerrors.ErrMsgEmptyValidatorSet)
	}
	return n.finality.RecordVote(address, header, signature)
}

// RunMaintenance promotes and prunes orphans every interval until ctx ends.
func (n *Node) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Maintain()
		}
	}
}

// Maintain runs one orphan promotion and pruning pass.
func (n *Node) Maintain() {
	if added := n.chain.ProcessOrphanBlocks(); added > 0 {
		logx.Info("NODE", fmt.Sprintf("Maintenance promoted %d orphans", added))
	}
	n.chain.PruneOrphanBlocks()
	monitoring.SetMempoolSize(n.mempool.Len())
}

func (n *Node) Chain() *chain.Processor {
	return n.chain
}

func (n *Node) Forks() *fork.Manager {
	return n.forks
}

// Finality is nil when no validator roster was configured.
func (n *Node) Finality() *consensus.FinalityManager {
	return n.finality
}

func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

func (n *Node) Mempool() *mempool.Mempool {
	return n.mempool
}

func (n *Node) Events() *events.EventBus {
	return n.events
}

func (n *Node) Close() error {
	logx.Info("NODE", "Closing stores")
	return n.stores.Close()
}
