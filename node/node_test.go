package node

import (
	"context"
	"testing"
	"time"

	"github.com/mezonai/mmnchain/block/blocktest"
	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/consensus"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/fork"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.NodeConfig {
	cfg := config.DefaultNodeConfig()
	cfg.Chain.DataDir = t.TempDir()
	cfg.Chain.CoinbaseReward = blocktest.Reward
	return cfg
}

func validators(n int) []config.ValidatorConfig {
	var out []config.ValidatorConfig
	for _, key := range blocktest.DeterministicKeys(n) {
		addr := blocktest.Address(key)
		out = append(out, config.ValidatorConfig{Address: addr, PublicKey: addr, VotingPower: 1})
	}
	return out
}

func TestOpen_ReceiveBlockRoutes(t *testing.T) {
	cfg := testConfig(t)
	spec := blocktest.GenesisSpec(100, "alice")
	n, err := Open(cfg, Options{GenesisSpec: spec})
	require.NoError(t, err)
	defer n.Close()
	require.Nil(t, n.Finality())

	genesis, ok := n.Chain().Tip()
	require.True(t, ok)

	a1 := blocktest.NewBlock(&genesis, "a")
	extended, _, err := n.ReceiveBlock(a1)
	require.NoError(t, err)
	require.True(t, extended)

	extended, outcome, err := n.ReceiveBlock(a1)
	require.NoError(t, err)
	require.False(t, extended)
	require.Equal(t, fork.NoOp, outcome)

	branch := blocktest.Extend(&genesis, 2, "b")
	_, outcome, err = n.ReceiveBlock(branch[0])
	require.NoError(t, err)
	require.Equal(t, fork.NoOp, outcome)
	_, outcome, err = n.ReceiveBlock(branch[1])
	require.NoError(t, err)
	require.Equal(t, fork.Reorganized, outcome)

	tip, _ := n.Chain().Tip()
	require.Equal(t, branch[1].Hash(), tip.Hash)

	_, err = n.SubmitVote("anyone", &tip, "sig")
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeEmptyValidatorSet))
}

func TestOpen_FinalityPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	spec := blocktest.GenesisSpec(100, "alice")
	roster := validators(3)
	keys := blocktest.DeterministicKeys(3)

	n, err := Open(cfg, Options{GenesisSpec: spec, Validators: roster})
	require.NoError(t, err)
	genesis, _ := n.Chain().Tip()
	blocks := blocktest.Extend(&genesis, 3, "a")
	for _, b := range blocks {
		_, _, err := n.ReceiveBlock(b)
		require.NoError(t, err)
	}
	target := &blocks[1].Header
	var cert *consensus.Certificate
	for i := 0; i < 2; i++ {
		cert, err = n.SubmitVote(roster[i].Address, target, consensus.SignVote(keys[i], cfg.Finality.Domain, target))
		require.NoError(t, err)
	}
	require.NotNil(t, cert)
	require.NoError(t, n.Close())

	reopened, err := Open(cfg, Options{GenesisSpec: spec, Validators: roster})
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 4, reopened.Chain().Len())
	require.True(t, reopened.Finality().IsFinalized(target.Hash))
	require.False(t, reopened.Finality().CanReorgToHeight(1))

	// a heavier branch forking below the finalized height is refused
	branch := blocktest.Extend(&genesis, 5, "b")
	var outcome fork.ForkOutcome
	for _, b := range branch {
		_, outcome, err = reopened.ReceiveBlock(b)
	}
	require.Equal(t, fork.NoOp, outcome)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeReorgCrossesFinality))
	tip, _ := reopened.Chain().Tip()
	require.Equal(t, blocks[2].Hash(), tip.Hash)
}

func TestOpen_RecoversInterruptedReorg(t *testing.T) {
	cfg := testConfig(t)
	spec := blocktest.GenesisSpec(100, "alice")
	n, err := Open(cfg, Options{GenesisSpec: spec})
	require.NoError(t, err)
	genesis, _ := n.Chain().Tip()
	for _, b := range blocktest.Extend(&genesis, 2, "a") {
		_, _, err := n.ReceiveBlock(b)
		require.NoError(t, err)
	}
	require.NoError(t, n.Forks().WAL().Begin(fork.WALEntry{ForkPoint: 0}))
	require.NoError(t, n.Close())

	reopened, err := Open(cfg, Options{GenesisSpec: spec})
	require.NoError(t, err)
	defer reopened.Close()
	entry, err := reopened.Forks().WAL().Read()
	require.NoError(t, err)
	require.Nil(t, entry)
	balance, err := reopened.Ledger().Balance("a")
	require.NoError(t, err)
	require.Equal(t, uint64(2*blocktest.Reward), balance.Uint64())
}

func TestRunMaintenance_PromotesOrphans(t *testing.T) {
	n, err := Open(testConfig(t), Options{GenesisSpec: blocktest.GenesisSpec(100, "alice")})
	require.NoError(t, err)
	defer n.Close()
	genesis, _ := n.Chain().Tip()
	blocks := blocktest.Extend(&genesis, 2, "a")
	n.Chain().Orphans().Add(blocks[1])
	require.NoError(t, n.Chain().AddBlockToChain(blocks[0]))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.RunMaintenance(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return n.Chain().Len() == 3 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
