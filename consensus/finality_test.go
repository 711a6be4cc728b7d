package consensus

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/block/blocktest"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/events"
	"github.com/stretchr/testify/require"
)

const testDomain = "TEST-FINALITY"

type roster struct {
	keys    []ed25519.PrivateKey
	configs []config.ValidatorConfig
}

func newRoster(powers ...uint64) roster {
	r := roster{keys: blocktest.DeterministicKeys(len(powers))}
	for i, p := range powers {
		addr := blocktest.Address(r.keys[i])
		r.configs = append(r.configs, config.ValidatorConfig{Address: addr, PublicKey: addr, VotingPower: p})
	}
	return r
}

func (r roster) addr(i int) string {
	return r.configs[i].Address
}

func (r roster) vote(fm *FinalityManager, i int, h *block.BlockHeader) (*Certificate, error) {
	return fm.RecordVote(r.addr(i), h, SignVote(r.keys[i], testDomain, h))
}

func newManager(t *testing.T, r roster, dataDir string, onMisbehave func(Evidence)) *FinalityManager {
	t.Helper()
	fm, err := NewFinalityManager(Options{
		Validators:    r.configs,
		Threshold:     2.0 / 3.0,
		Domain:        testDomain,
		DataDir:       dataDir,
		OnMisbehavior: onMisbehave,
	})
	require.NoError(t, err)
	return fm
}

func testHeaders(n int) []*block.BlockHeader {
	genesis := blocktest.Genesis(blocktest.GenesisSpec(1, "alice"))
	out := []*block.BlockHeader{&genesis.Header}
	for _, b := range blocktest.Extend(&genesis.Header, n, "miner") {
		b := b
		out = append(out, &b.Header)
	}
	return out
}

func TestQuorumPower(t *testing.T) {
	cases := []struct {
		total     uint64
		threshold float64
		want      uint64
	}{
		{100, 2.0 / 3.0, 67},
		{3, 2.0 / 3.0, 2},
		{4, 0.5, 2},
		{1, 0.01, 1},
		{10, 1, 10},
	}
	for _, c := range cases {
		got, err := QuorumPower(c.total, c.threshold)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "total=%d threshold=%v", c.total, c.threshold)
	}

	for _, bad := range []float64{0, -0.5, 1.01} {
		_, err := QuorumPower(10, bad)
		require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidThreshold))
	}
}

func TestNewFinalityManager_ConfigErrors(t *testing.T) {
	_, err := NewFinalityManager(Options{Threshold: 0.67})
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeEmptyValidatorSet))
	require.True(t, chainerrors.IsKind(err, chainerrors.KindConfiguration))

	r := newRoster(1, 1)
	_, err = NewFinalityManager(Options{Validators: r.configs, Threshold: 1.5})
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidThreshold))

	dup := append([]config.ValidatorConfig{}, r.configs[0], r.configs[0])
	_, err = NewFinalityManager(Options{Validators: dup, Threshold: 0.5})
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidConfig))

	badKey := []config.ValidatorConfig{{Address: "v", PublicKey: "not-a-key", VotingPower: 1}}
	_, err = NewFinalityManager(Options{Validators: badKey, Threshold: 0.5})
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidConfig))
}

func TestRecordVote_FinalizesExactlyAtQuorum(t *testing.T) {
	r := newRoster(1, 1, 1)
	fm := newManager(t, r, "", nil)
	require.Equal(t, uint64(2), fm.QuorumPower())
	bus := events.NewEventBus()
	fm.events = bus
	_, ch := bus.Subscribe()

	h := testHeaders(1)[1]
	cert, err := r.vote(fm, 0, h)
	require.NoError(t, err)
	require.Nil(t, cert)
	require.Equal(t, uint64(1), fm.PendingPower(h.Hash))
	require.False(t, fm.IsFinalized(h.Hash))
	require.True(t, fm.CanReorgToHeight(0))

	cert, err = r.vote(fm, 1, h)
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.Equal(t, uint64(2), cert.AggregatedPower)
	require.Len(t, cert.Signatures, 2)
	require.Equal(t, h.Index, cert.BlockHeight)

	height, ok := fm.HighestFinalizedHeight()
	require.True(t, ok)
	require.Equal(t, h.Index, height)
	require.Zero(t, fm.PendingPower(h.Hash))

	ev := <-ch
	require.Equal(t, events.EventBlockFinalized, ev.Type())
	require.Equal(t, h.Hash, ev.BlockHash())

	// a late vote returns the same certificate
	again, err := r.vote(fm, 2, h)
	require.NoError(t, err)
	require.Equal(t, cert, again)
	byHeight, ok := fm.CertificateByHeight(h.Index)
	require.True(t, ok)
	require.Equal(t, cert, byHeight)
}

func TestRecordVote_Rejections(t *testing.T) {
	r := newRoster(1, 1, 1)
	fm := newManager(t, r, "", nil)
	h := testHeaders(1)[1]

	_, err := fm.RecordVote("stranger", h, SignVote(r.keys[0], testDomain, h))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeUnknownValidator))

	_, err = fm.RecordVote(r.addr(0), h, SignVote(r.keys[1], testDomain, h))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidSignature))

	_, err = fm.RecordVote(r.addr(0), h, SignVote(r.keys[0], "OTHER-DOMAIN", h))
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidSignature))

	_, err = fm.RecordVote(r.addr(0), h, "0OIl")
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeInvalidSignature))

	_, err = r.vote(fm, 0, h)
	require.NoError(t, err)
	_, err = r.vote(fm, 0, h)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleVote))
	require.Equal(t, uint64(1), fm.PendingPower(h.Hash))
}

func TestRecordVote_DoubleSignReportedOnce(t *testing.T) {
	r := newRoster(1, 1, 1)
	var reports []Evidence
	fm := newManager(t, r, "", func(e Evidence) { reports = append(reports, e) })

	genesis := blocktest.Genesis(blocktest.GenesisSpec(1, "alice"))
	a := blocktest.NewBlock(&genesis.Header, "a")
	b := blocktest.NewBlock(&genesis.Header, "b")

	_, err := r.vote(fm, 0, &a.Header)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = r.vote(fm, 0, &b.Header)
		require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleSign))
	}

	require.Len(t, reports, 1)
	require.Equal(t, r.addr(0), reports[0].Validator)
	require.Equal(t, uint64(1), reports[0].Height)
	require.Equal(t, a.Hash(), reports[0].FirstHash)
	require.Equal(t, b.Hash(), reports[0].SecondHash)
	require.Zero(t, fm.PendingPower(b.Hash()))
}

func TestCanReorgToHeight(t *testing.T) {
	r := newRoster(1)
	fm := newManager(t, r, "", nil)
	headers := testHeaders(6)

	require.True(t, fm.CanReorgToHeight(0))
	_, err := r.vote(fm, 0, headers[5])
	require.NoError(t, err)

	require.False(t, fm.CanReorgToHeight(3))
	require.True(t, fm.CanReorgToHeight(5))
	require.True(t, fm.CanReorgToHeight(6))
}

func TestFinality_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	r := newRoster(1, 1)
	fm := newManager(t, r, dir, nil)
	headers := testHeaders(3)

	for _, h := range headers[1:3] {
		_, err := r.vote(fm, 0, h)
		require.NoError(t, err)
		_, err = r.vote(fm, 1, h)
		require.NoError(t, err)
	}
	require.FileExists(t, filepath.Join(dir, CertificatesFile))
	require.FileExists(t, filepath.Join(dir, StateFile))

	reloaded := newManager(t, r, dir, nil)
	require.Equal(t, fm.Certificates(), reloaded.Certificates())
	height, ok := reloaded.HighestFinalizedHeight()
	require.True(t, ok)
	require.Equal(t, uint64(2), height)
	require.False(t, reloaded.CanReorgToHeight(1))

	// signatures from disk still feed the double sign detector
	conflict := blocktest.NewBlock(headers[0], "conflict")
	_, err := r.vote(reloaded, 0, &conflict.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleSign))
}

func TestFinality_PersistFailureDoesNotCountVote(t *testing.T) {
	dir := t.TempDir()
	r := newRoster(1)
	fm := newManager(t, r, dir, nil)
	h := testHeaders(1)[1]

	// a directory where the certificate file should go makes the rename fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, CertificatesFile), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CertificatesFile, "x"), []byte("x"), 0o644))

	_, err := r.vote(fm, 0, h)
	require.True(t, chainerrors.IsKind(err, chainerrors.KindStorage))
	require.False(t, fm.IsFinalized(h.Hash))
	require.Zero(t, fm.PendingPower(h.Hash))
	_, ok := fm.HighestFinalizedHeight()
	require.False(t, ok)
}

func TestFinality_SnapshotRestore(t *testing.T) {
	r := newRoster(1, 1, 1)
	fm := newManager(t, r, t.TempDir(), nil)
	headers := testHeaders(2)

	_, err := r.vote(fm, 0, headers[1])
	require.NoError(t, err)
	snap := fm.Snapshot()

	_, err = r.vote(fm, 1, headers[1])
	require.NoError(t, err)
	_, err = r.vote(fm, 2, headers[2])
	require.NoError(t, err)
	require.True(t, fm.IsFinalized(headers[1].Hash))

	require.NoError(t, fm.Restore(snap))
	require.True(t, fm.IsFinalized(headers[1].Hash))
	require.Zero(t, fm.PendingPower(headers[1].Hash))
	require.Zero(t, fm.PendingPower(headers[2].Hash))
	require.Len(t, fm.Certificates(), 1)

	// validator 2's pending vote at height 2 was rolled back
	other := blocktest.NewBlock(headers[1], "other")
	_, err = r.vote(fm, 2, &other.Header)
	require.NoError(t, err)

	// validator 1 signed the certificate, so its signature survives
	conflict := blocktest.NewBlock(headers[0], "conflict")
	_, err = r.vote(fm, 1, &conflict.Header)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleSign))
}

func TestFinality_RestoreKeepsCertificateIssuedAfterSnapshot(t *testing.T) {
	dir := t.TempDir()
	r := newRoster(1, 1, 1)
	fm := newManager(t, r, dir, nil)
	headers := testHeaders(5)

	snap := fm.Snapshot()
	_, err := r.vote(fm, 0, headers[5])
	require.NoError(t, err)
	cert, err := r.vote(fm, 1, headers[5])
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.False(t, fm.CanReorgToHeight(2))

	require.NoError(t, fm.Restore(snap))
	require.True(t, fm.IsFinalized(headers[5].Hash))
	require.False(t, fm.CanReorgToHeight(2))
	height, ok := fm.HighestFinalizedHeight()
	require.True(t, ok)
	require.Equal(t, uint64(5), height)

	reloaded := newManager(t, r, dir, nil)
	require.True(t, reloaded.IsFinalized(headers[5].Hash))
	require.False(t, reloaded.CanReorgToHeight(2))
}

func syntheticHeader(height uint64) *block.BlockHeader {
	h := &block.BlockHeader{Index: height}
	h.Hash[0], h.Hash[1], h.Hash[2] = byte(height>>16), byte(height>>8), byte(height)
	return h
}

func TestFinality_PrunesVotesBelowRetainedHeights(t *testing.T) {
	r := newRoster(1, 1)
	fm := newManager(t, r, "", nil)

	// a pending vote that never reaches quorum
	abandoned := syntheticHeader(3)
	abandoned.Hash[31] = 0xff
	_, err := r.vote(fm, 0, abandoned)
	require.NoError(t, err)

	top := RetainedHeights + 10
	for height := uint64(1); height <= top; height++ {
		h := syntheticHeader(height)
		_, err := r.vote(fm, 1, h)
		require.NoError(t, err)
		cert, err := r.vote(fm, 0, h)
		if height == 3 {
			require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleSign))
			continue
		}
		require.NoError(t, err)
		require.NotNil(t, cert)
	}

	floor := top - RetainedHeights
	for _, heights := range fm.detector.signed {
		for h := range heights {
			require.GreaterOrEqual(t, h, floor)
		}
		require.LessOrEqual(t, len(heights), int(RetainedHeights)+1)
	}
	require.Zero(t, fm.PendingPower(abandoned.Hash))
	require.NotContains(t, fm.pendingHeight, abandoned.Hash)

	// below the floor only certified blocks are answered
	cert, err := r.vote(fm, 0, syntheticHeader(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), cert.BlockHeight)

	conflict := syntheticHeader(2)
	conflict.Hash[31] = 0xee
	_, err = r.vote(fm, 0, conflict)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeStaleVote))

	// inside the window double signs are still caught
	inside := syntheticHeader(top - 1)
	inside.Hash[31] = 0xdd
	_, err = r.vote(fm, 0, inside)
	require.True(t, chainerrors.HasCode(err, chainerrors.ErrCodeDoubleSign))
}
