package consensus

import (
	"fmt"
	"time"

	"github.com/mezonai/mmnchain/block"
)

// Evidence proves a validator signed two hashes at one height.
type Evidence struct {
	Validator  string     `json:"validator"`
	Height     uint64     `json:"height"`
	FirstHash  block.Hash `json:"first_hash"`
	SecondHash block.Hash `json:"second_hash"`
	DetectedAt int64      `json:"detected_at"`
}

// DetectorState is a deep copy of what a DoubleSignDetector remembers.
type DetectorState struct {
	Signed   map[string]map[uint64]block.Hash
	Reported map[uint64]map[string]struct{}
}

// DoubleSignDetector remembers the first hash each validator signed per
// height. Heights below the pruning floor are forgotten.
type DoubleSignDetector struct {
	signed   map[string]map[uint64]block.Hash
	reported map[uint64]map[string]struct{}
}

func NewDoubleSignDetector() *DoubleSignDetector {
	return &DoubleSignDetector{
		signed:   make(map[string]map[uint64]block.Hash),
		reported: make(map[uint64]map[string]struct{}),
	}
}

// ProcessSignedBlock records a signature. isDouble is true when validator
// already signed a different hash at height; proof is returned only the
// first time a given conflict is seen.
func (d *DoubleSignDetector) ProcessSignedBlock(validator string, height uint64, hash block.Hash) (isDouble bool, proof *Evidence) {
	heights, ok := d.signed[validator]
	if !ok {
		heights = make(map[uint64]block.Hash)
		d.signed[validator] = heights
	}
	first, seen := heights[height]
	if !seen {
		heights[height] = hash
		return false, nil
	}
	if first == hash {
		return false, nil
	}
	key := fmt.Sprintf("%s|%s", validator, hash)
	atHeight, ok := d.reported[height]
	if !ok {
		atHeight = make(map[string]struct{})
		d.reported[height] = atHeight
	}
	if _, dup := atHeight[key]; dup {
		return true, nil
	}
	atHeight[key] = struct{}{}
	return true, &Evidence{
		Validator:  validator,
		Height:     height,
		FirstHash:  first,
		SecondHash: hash,
		DetectedAt: time.Now().Unix(),
	}
}

// Prune drops everything recorded for heights below floor.
func (d *DoubleSignDetector) Prune(floor uint64) {
	for v, heights := range d.signed {
		for h := range heights {
			if h < floor {
				delete(heights, h)
			}
		}
		if len(heights) == 0 {
			delete(d.signed, v)
		}
	}
	for h := range d.reported {
		if h < floor {
			delete(d.reported, h)
		}
	}
}

func (d *DoubleSignDetector) GetState() DetectorState {
	state := DetectorState{
		Signed:   make(map[string]map[uint64]block.Hash, len(d.signed)),
		Reported: make(map[uint64]map[string]struct{}, len(d.reported)),
	}
	for v, heights := range d.signed {
		cp := make(map[uint64]block.Hash, len(heights))
		for h, hash := range heights {
			cp[h] = hash
		}
		state.Signed[v] = cp
	}
	for h, keys := range d.reported {
		cp := make(map[string]struct{}, len(keys))
		for k := range keys {
			cp[k] = struct{}{}
		}
		state.Reported[h] = cp
	}
	return state
}

func (d *DoubleSignDetector) RestoreState(state DetectorState) {
	d.signed = make(map[string]map[uint64]block.Hash, len(state.Signed))
	for v, heights := range state.Signed {
		cp := make(map[uint64]block.Hash, len(heights))
		for h, hash := range heights {
			cp[h] = hash
		}
		d.signed[v] = cp
	}
	d.reported = make(map[uint64]map[string]struct{}, len(state.Reported))
	for h, keys := range state.Reported {
		cp := make(map[string]struct{}, len(keys))
		for k := range keys {
			cp[k] = struct{}{}
		}
		d.reported[h] = cp
	}
}
