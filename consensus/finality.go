package consensus

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/common"
	"github.com/mezonai/mmnchain/config"
	chainerrors "github.com/mezonai/mmnchain/errors"
	"github.com/mezonai/mmnchain/events"
	"github.com/mezonai/mmnchain/fileutil"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/monitoring"
)

const (
	CertificatesFile = "finality_certificates.json"
	StateFile        = "finality_state.json"

	// RetainedHeights is how far below the highest finalized height votes
	// are still tracked. Older votes are answered from certificates only.
	RetainedHeights uint64 = 256
)

// Options configures a FinalityManager. DataDir empty keeps everything in memory.
type Options struct {
	Validators    []config.ValidatorConfig
	Threshold     float64
	Domain        string
	DataDir       string
	Verifier      SignatureVerifier
	OnMisbehavior func(Evidence)
	Events        *events.EventBus
}

// FinalityManager turns validator votes into quorum certificates. A
// finalized block can never be rolled back; CanReorgToHeight exposes that
// rule to the fork manager without touching the chain lock.
type FinalityManager struct {
	mu sync.RWMutex

	validators  map[string]Validator
	totalPower  uint64
	quorumPower uint64
	threshold   float64
	domain      string
	dataDir     string
	verifier    SignatureVerifier
	detector    *DoubleSignDetector
	onMisbehave func(Evidence)
	events      *events.EventBus

	pendingVotes  map[block.Hash]map[string]string
	pendingPower  map[block.Hash]uint64
	pendingHeight map[block.Hash]uint64
	byHash        map[block.Hash]*Certificate
	byHeight      map[uint64]*Certificate
	highest       uint64
	hasFinalized  bool
}

// NewFinalityManager validates the roster, computes the quorum and loads any
// persisted certificates. Configuration problems fail fast.
func NewFinalityManager(opts Options) (*FinalityManager, error) {
	validators, total, err := NewValidatorSet(opts.Validators)
	if err != nil {
		return nil, err
	}
	quorum, err := QuorumPower(total, opts.Threshold)
	if err != nil {
		return nil, err
	}
	domain := opts.Domain
	if domain == "" {
		domain = config.DefaultFinalityDomain
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = Ed25519Verifier{}
	}

	fm := &FinalityManager{
		validators:    validators,
		totalPower:    total,
		quorumPower:   quorum,
		threshold:     opts.Threshold,
		domain:        domain,
		dataDir:       opts.DataDir,
		verifier:      verifier,
		detector:      NewDoubleSignDetector(),
		onMisbehave:   opts.OnMisbehavior,
		events:        opts.Events,
		pendingVotes:  make(map[block.Hash]map[string]string),
		pendingPower:  make(map[block.Hash]uint64),
		pendingHeight: make(map[block.Hash]uint64),
		byHash:        make(map[block.Hash]*Certificate),
		byHeight:      make(map[uint64]*Certificate),
	}
	if err := fm.load(); err != nil {
		return nil, err
	}
	logx.Info("FINALITY", fmt.Sprintf("validators=%d total_power=%d quorum_power=%d certificates=%d",
		len(validators), total, quorum, len(fm.byHash)))
	return fm, nil
}

// RecordVote accounts one validator signature over header. It returns the
// certificate when the block is (or just became) finalized, and nil while
// votes are still accumulating.
func (fm *FinalityManager) RecordVote(address string, header *block.BlockHeader, signature string) (*Certificate, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	v, known := fm.validators[address]
	if !known {
		monitoring.RecordRejectedVote(monitoring.VoteUnknownValidator)
		return nil, chainerrors.Validation(chainerrors.ErrCodeUnknownValidator, chainerrors.ErrMsgUnknownValidator)
	}

	sig, err := common.DecodeBase58ToBytes(signature)
	if err != nil || !fm.verifier.Verify(v.PublicKey, VotePayload(fm.domain, header.Hash, header.Index), sig) {
		monitoring.RecordRejectedVote(monitoring.VoteInvalidSignature)
		return nil, chainerrors.Validation(chainerrors.ErrCodeInvalidSignature, chainerrors.ErrMsgInvalidSignature)
	}

	if header.Index < fm.floorLocked() {
		if cert, ok := fm.byHash[header.Hash]; ok {
			return cert.clone(), nil
		}
		monitoring.RecordRejectedVote(monitoring.VoteStale)
		return nil, chainerrors.Validation(chainerrors.ErrCodeStaleVote, chainerrors.ErrMsgStaleVote)
	}

	if isDouble, proof := fm.detector.ProcessSignedBlock(address, header.Index, header.Hash); isDouble {
		monitoring.RecordRejectedVote(monitoring.VoteDoubleSign)
		if proof != nil {
			fm.reportLocked(*proof)
		}
		return nil, chainerrors.Validation(chainerrors.ErrCodeDoubleSign, chainerrors.ErrMsgDoubleSign)
	}

	if cert, ok := fm.byHash[header.Hash]; ok {
		return cert.clone(), nil
	}

	votes, ok := fm.pendingVotes[header.Hash]
	if !ok {
		votes = make(map[string]string)
		fm.pendingVotes[header.Hash] = votes
		fm.pendingHeight[header.Hash] = header.Index
	}
	if _, dup := votes[address]; dup {
		monitoring.RecordRejectedVote(monitoring.VoteDuplicated)
		return nil, chainerrors.Validation(chainerrors.ErrCodeDoubleVote, chainerrors.ErrMsgDoubleVote)
	}
	votes[address] = signature
	fm.pendingPower[header.Hash] += v.VotingPower
	power := fm.pendingPower[header.Hash]

	if power < fm.quorumPower {
		logx.Debug("FINALITY", fmt.Sprintf("block=%d hash=%s power=%d/%d", header.Index, header.Hash.Short(), power, fm.quorumPower))
		return nil, nil
	}

	cert := &Certificate{
		BlockHash:       header.Hash,
		BlockHeight:     header.Index,
		Signatures:      make(map[string]string, len(votes)),
		AggregatedPower: power,
		CreatedAt:       time.Now().Unix(),
	}
	for addr, s := range votes {
		cert.Signatures[addr] = s
	}
	if err := fm.finalizeLocked(cert); err != nil {
		// the vote is not counted so the caller can retry it
		delete(votes, address)
		fm.pendingPower[header.Hash] -= v.VotingPower
		return nil, err
	}
	return cert.clone(), nil
}

func (fm *FinalityManager) reportLocked(proof Evidence) {
	logx.Error("FINALITY", fmt.Sprintf("Double sign by %s at height %d: %s vs %s",
		proof.Validator, proof.Height, proof.FirstHash, proof.SecondHash))
	monitoring.IncreaseValidatorMisbehaviours()
	fm.events.Publish(events.NewValidatorMisbehavior(proof.Validator, proof.Height, proof.FirstHash, proof.SecondHash))
	if fm.onMisbehave != nil {
		fm.onMisbehave(proof)
	}
}

// finalizeLocked persists the certificate set with cert added, then moves
// cert from the pending votes into the finalized indices.
func (fm *FinalityManager) finalizeLocked(cert *Certificate) error {
	highest, hasFinalized := fm.highest, fm.hasFinalized
	if !hasFinalized || cert.BlockHeight > highest {
		highest, hasFinalized = cert.BlockHeight, true
	}

	certs := append(fm.certificatesLocked(), cert)
	if err := fm.persistLocked(certs, highest, hasFinalized); err != nil {
		return err
	}

	fm.dropPendingLocked(cert.BlockHash)
	fm.byHash[cert.BlockHash] = cert
	if _, taken := fm.byHeight[cert.BlockHeight]; !taken {
		fm.byHeight[cert.BlockHeight] = cert
	}
	fm.highest, fm.hasFinalized = highest, hasFinalized
	fm.pruneLocked()

	monitoring.IncreaseCertificatesIssued()
	monitoring.SetFinalizedHeight(fm.highest)
	fm.events.Publish(events.NewBlockFinalized(cert.BlockHash, cert.BlockHeight, cert.AggregatedPower, len(cert.Signatures)))
	logx.Info("FINALITY", fmt.Sprintf("Finalized block %d hash=%s power=%d/%d signers=%d",
		cert.BlockHeight, cert.BlockHash.Short(), cert.AggregatedPower, fm.totalPower, len(cert.Signatures)))
	return nil
}

// floorLocked is the lowest height whose votes are still tracked.
func (fm *FinalityManager) floorLocked() uint64 {
	if !fm.hasFinalized || fm.highest < RetainedHeights {
		return 0
	}
	return fm.highest - RetainedHeights
}

func (fm *FinalityManager) dropPendingLocked(hash block.Hash) {
	delete(fm.pendingVotes, hash)
	delete(fm.pendingPower, hash)
	delete(fm.pendingHeight, hash)
}

// pruneLocked forgets votes and signatures below the retention floor.
func (fm *FinalityManager) pruneLocked() {
	floor := fm.floorLocked()
	if floor == 0 {
		return
	}
	for hash, height := range fm.pendingHeight {
		if height < floor {
			fm.dropPendingLocked(hash)
		}
	}
	fm.detector.Prune(floor)
}

func (fm *FinalityManager) certificatesLocked() []*Certificate {
	certs := make([]*Certificate, 0, len(fm.byHash)+1)
	for _, c := range fm.byHash {
		certs = append(certs, c)
	}
	sort.Slice(certs, func(i, j int) bool {
		if certs[i].BlockHeight != certs[j].BlockHeight {
			return certs[i].BlockHeight < certs[j].BlockHeight
		}
		return certs[i].BlockHash.String() < certs[j].BlockHash.String()
	})
	return certs
}

func (fm *FinalityManager) persistLocked(certs []*Certificate, highest uint64, hasFinalized bool) error {
	if fm.dataDir == "" {
		return nil
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(fm.dataDir, CertificatesFile), certs); err != nil {
		return chainerrors.Storage("failed to persist finality certificates", err)
	}
	state := finalityState{
		QuorumPower:            fm.quorumPower,
		TotalPower:             fm.totalPower,
		Threshold:              fm.threshold,
		Validators:             fm.rosterLocked(),
		HighestFinalizedHeight: highest,
		HasFinalized:           hasFinalized,
		UpdatedAt:              time.Now().Unix(),
	}
	if err := fileutil.WriteJSONAtomic(filepath.Join(fm.dataDir, StateFile), state); err != nil {
		return chainerrors.Storage("failed to persist finality state", err)
	}
	return nil
}

func (fm *FinalityManager) rosterLocked() []stateValidator {
	roster := make([]stateValidator, 0, len(fm.validators))
	for _, v := range fm.validators {
		roster = append(roster, stateValidator{
			Address:     v.Address,
			PublicKey:   common.EncodeBytesToBase58(v.PublicKey),
			VotingPower: v.VotingPower,
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Address < roster[j].Address })
	return roster
}

// load restores certificates persisted by an earlier run. Certificates
// signed by validators no longer in the roster are still honoured: finality
// is irreversible.
func (fm *FinalityManager) load() error {
	if fm.dataDir == "" {
		return nil
	}
	var certs []*Certificate
	if _, err := fileutil.ReadJSON(filepath.Join(fm.dataDir, CertificatesFile), &certs); err != nil {
		return chainerrors.Storage("failed to load finality certificates", err)
	}
	for _, c := range certs {
		fm.byHash[c.BlockHash] = c
		if _, taken := fm.byHeight[c.BlockHeight]; !taken {
			fm.byHeight[c.BlockHeight] = c
		}
		if !fm.hasFinalized || c.BlockHeight > fm.highest {
			fm.highest, fm.hasFinalized = c.BlockHeight, true
		}
		for addr := range c.Signatures {
			fm.detector.ProcessSignedBlock(addr, c.BlockHeight, c.BlockHash)
		}
	}
	fm.pruneLocked()

	var state finalityState
	found, err := fileutil.ReadJSON(filepath.Join(fm.dataDir, StateFile), &state)
	if err != nil {
		logx.Warn("FINALITY", "Ignoring unreadable finality state: ", err)
	} else if found && state.QuorumPower != fm.quorumPower {
		logx.Warn("FINALITY", fmt.Sprintf("Quorum changed since last run: %d -> %d", state.QuorumPower, fm.quorumPower))
	}
	if fm.hasFinalized {
		monitoring.SetFinalizedHeight(fm.highest)
	}
	return nil
}

// CanReorgToHeight reports whether a reorg with this fork point keeps every
// finalized block.
func (fm *FinalityManager) CanReorgToHeight(forkPoint uint64) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return !fm.hasFinalized || forkPoint >= fm.highest
}

// HighestFinalizedHeight returns ok=false while nothing is finalized.
func (fm *FinalityManager) HighestFinalizedHeight() (height uint64, ok bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.highest, fm.hasFinalized
}

func (fm *FinalityManager) IsFinalized(hash block.Hash) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	_, ok := fm.byHash[hash]
	return ok
}

func (fm *FinalityManager) CertificateByHash(hash block.Hash) (*Certificate, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	c, ok := fm.byHash[hash]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

func (fm *FinalityManager) CertificateByHeight(height uint64) (*Certificate, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	c, ok := fm.byHeight[height]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Certificates lists every certificate by ascending height.
func (fm *FinalityManager) Certificates() []*Certificate {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	certs := fm.certificatesLocked()
	for i, c := range certs {
		certs[i] = c.clone()
	}
	return certs
}

// PendingPower is the voting power accumulated for a not yet finalized block.
func (fm *FinalityManager) PendingPower(hash block.Hash) uint64 {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	return fm.pendingPower[hash]
}

func (fm *FinalityManager) QuorumPower() uint64 {
	return fm.quorumPower
}

func (fm *FinalityManager) TotalPower() uint64 {
	return fm.totalPower
}

func (fm *FinalityManager) Domain() string {
	return fm.domain
}

// Snapshot deep-copies pending votes, certificates and detector state.
func (fm *FinalityManager) Snapshot() *Snapshot {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	s := &Snapshot{
		pendingVotes:  make(map[block.Hash]map[string]string, len(fm.pendingVotes)),
		pendingPower:  make(map[block.Hash]uint64, len(fm.pendingPower)),
		pendingHeight: make(map[block.Hash]uint64, len(fm.pendingHeight)),
		byHash:        make(map[block.Hash]*Certificate, len(fm.byHash)),
		highest:       fm.highest,
		hasFinalized:  fm.hasFinalized,
		detectorState: fm.detector.GetState(),
	}
	for h, votes := range fm.pendingVotes {
		s.pendingVotes[h] = copyVotes(votes)
		s.pendingPower[h] = fm.pendingPower[h]
		s.pendingHeight[h] = fm.pendingHeight[h]
	}
	for h, c := range fm.byHash {
		s.byHash[h] = c.clone()
	}
	return s
}

// Restore rolls pending votes and detector state back to s. Certificates
// are never rolled back: one issued after s was taken stays, along with
// the signatures that formed it, and the finalized height only grows.
func (fm *FinalityManager) Restore(s *Snapshot) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for h, c := range s.byHash {
		if _, ok := fm.byHash[h]; ok {
			continue
		}
		c = c.clone()
		fm.byHash[h] = c
		if _, taken := fm.byHeight[c.BlockHeight]; !taken {
			fm.byHeight[c.BlockHeight] = c
		}
	}
	if s.hasFinalized && (!fm.hasFinalized || s.highest > fm.highest) {
		fm.highest, fm.hasFinalized = s.highest, true
	}

	fm.pendingVotes = make(map[block.Hash]map[string]string, len(s.pendingVotes))
	fm.pendingPower = make(map[block.Hash]uint64, len(s.pendingPower))
	fm.pendingHeight = make(map[block.Hash]uint64, len(s.pendingHeight))
	for h, votes := range s.pendingVotes {
		if _, final := fm.byHash[h]; final {
			continue
		}
		fm.pendingVotes[h] = copyVotes(votes)
		fm.pendingPower[h] = s.pendingPower[h]
		fm.pendingHeight[h] = s.pendingHeight[h]
	}

	fm.detector.RestoreState(s.detectorState)
	for _, c := range fm.byHash {
		if _, before := s.byHash[c.BlockHash]; before {
			continue
		}
		for addr := range c.Signatures {
			fm.detector.ProcessSignedBlock(addr, c.BlockHeight, c.BlockHash)
		}
	}
	fm.pruneLocked()

	return fm.persistLocked(fm.certificatesLocked(), fm.highest, fm.hasFinalized)
}

func copyVotes(votes map[string]string) map[string]string {
	cp := make(map[string]string, len(votes))
	for k, v := range votes {
		cp[k] = v
	}
	return cp
}
