package consensus

import (
	"github.com/mezonai/mmnchain/block"
)

// Certificate is a quorum of validator signatures on one block. It is
// created once, when aggregated power first reaches the quorum, and never
// changes afterwards.
type Certificate struct {
	BlockHash       block.Hash        `json:"block_hash"`
	BlockHeight     uint64            `json:"block_height"`
	Signatures      map[string]string `json:"signatures"`
	AggregatedPower uint64            `json:"aggregated_power"`
	CreatedAt       int64             `json:"created_at"`
}

func (c *Certificate) clone() *Certificate {
	cp := *c
	cp.Signatures = make(map[string]string, len(c.Signatures))
	for k, v := range c.Signatures {
		cp.Signatures[k] = v
	}
	return &cp
}

type stateValidator struct {
	Address     string `json:"address"`
	PublicKey   string `json:"public_key"`
	VotingPower uint64 `json:"voting_power"`
}

// finalityState is the summary file written next to the certificates.
type finalityState struct {
	QuorumPower            uint64           `json:"quorum_power"`
	TotalPower             uint64           `json:"total_power"`
	Threshold              float64          `json:"threshold"`
	Validators             []stateValidator `json:"validators"`
	HighestFinalizedHeight uint64           `json:"highest_finalized_height"`
	HasFinalized           bool             `json:"has_finalized"`
	UpdatedAt              int64            `json:"updated_at"`
}

// Snapshot is a deep copy of the finality bookkeeping, taken before a reorg
// so a failed reorg can roll back the votes it saw.
type Snapshot struct {
	pendingVotes  map[block.Hash]map[string]string
	pendingPower  map[block.Hash]uint64
	pendingHeight map[block.Hash]uint64
	byHash        map[block.Hash]*Certificate
	highest       uint64
	hasFinalized  bool
	detectorState DetectorState
}
