package events

import (
	"time"

	"github.com/mezonai/mmnchain/block"
)

// EventType is an enum-like string type for chain events
type EventType string

const (
	EventBlockAdded           EventType = "BlockAdded"
	EventChainReorganized     EventType = "ChainReorganized"
	EventBlockFinalized       EventType = "BlockFinalized"
	EventValidatorMisbehavior EventType = "ValidatorMisbehavior"
)

// ChainEvent represents any event the chain state machine emits
type ChainEvent interface {
	Type() EventType
	Timestamp() time.Time
	BlockHash() block.Hash
}

type baseEvent struct {
	hash      block.Hash
	timestamp time.Time
}

func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e baseEvent) BlockHash() block.Hash {
	return e.hash
}

// BlockAdded is emitted when a block extends the canonical chain.
type BlockAdded struct {
	baseEvent
	Index   uint64
	TxCount int
}

func NewBlockAdded(b *block.Block) *BlockAdded {
	return &BlockAdded{
		baseEvent: baseEvent{hash: b.Header.Hash, timestamp: time.Now()},
		Index:     b.Header.Index,
		TxCount:   len(b.Transactions),
	}
}

func (e *BlockAdded) Type() EventType {
	return EventBlockAdded
}

// ChainReorganized is emitted after a reorg commits. BlockHash is the new tip.
type ChainReorganized struct {
	baseEvent
	OldTip    block.Hash
	ForkPoint uint64
	Depth     uint64
	NewHeight uint64
}

func NewChainReorganized(oldTip, newTip block.Hash, forkPoint, depth, newHeight uint64) *ChainReorganized {
	return &ChainReorganized{
		baseEvent: baseEvent{hash: newTip, timestamp: time.Now()},
		OldTip:    oldTip,
		ForkPoint: forkPoint,
		Depth:     depth,
		NewHeight: newHeight,
	}
}

func (e *ChainReorganized) Type() EventType {
	return EventChainReorganized
}

// BlockFinalized is emitted once per certificate.
type BlockFinalized struct {
	baseEvent
	Height          uint64
	AggregatedPower uint64
	Signers         int
}

func NewBlockFinalized(hash block.Hash, height, power uint64, signers int) *BlockFinalized {
	return &BlockFinalized{
		baseEvent:       baseEvent{hash: hash, timestamp: time.Now()},
		Height:          height,
		AggregatedPower: power,
		Signers:         signers,
	}
}

func (e *BlockFinalized) Type() EventType {
	return EventBlockFinalized
}

// ValidatorMisbehavior carries double-sign evidence. BlockHash is the
// second, conflicting hash.
type ValidatorMisbehavior struct {
	baseEvent
	Validator string
	Height    uint64
	FirstHash block.Hash
}

func NewValidatorMisbehavior(validator string, height uint64, first, second block.Hash) *ValidatorMisbehavior {
	return &ValidatorMisbehavior{
		baseEvent: baseEvent{hash: second, timestamp: time.Now()},
		Validator: validator,
		Height:    height,
		FirstHash: first,
	}
}

func (e *ValidatorMisbehavior) Type() EventType {
	return EventValidatorMisbehavior
}
