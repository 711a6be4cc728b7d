package checkpoint

import (
	"fmt"
	"time"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/logx"
	"github.com/mezonai/mmnchain/store"
)

// Service records a checkpoint every interval blocks. Failures are reported
// to the caller, who only logs them.
type Service struct {
	store    store.CheckpointStore
	interval uint64
	now      func() time.Time
}

// NewService creates a checkpoint service; interval 0 disables checkpoints.
func NewService(s store.CheckpointStore, interval uint64) *Service {
	return &Service{store: s, interval: interval, now: time.Now}
}

// Due reports whether height is a checkpoint height.
func (s *Service) Due(height uint64) bool {
	return s.interval > 0 && height > 0 && height%s.interval == 0
}

// MaybeCreateCheckpoint pins chain[height] when a checkpoint is due.
// It returns nil when none was due.
func (s *Service) MaybeCreateCheckpoint(height uint64, chain []block.BlockHeader) (*store.Checkpoint, error) {
	if !s.Due(height) {
		return nil, nil
	}
	if height >= uint64(len(chain)) {
		return nil, fmt.Errorf("checkpoint height %d beyond chain length %d", height, len(chain))
	}
	cp := &store.Checkpoint{
		Height:    height,
		Hash:      chain[height].Hash,
		ChainWork: block.ChainWork(chain[:height+1]).Dec(),
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.Save(cp); err != nil {
		return nil, fmt.Errorf("save checkpoint %d: %w", height, err)
	}
	logx.Info("CHECKPOINT", fmt.Sprintf("Checkpoint at height %d hash=%s", height, cp.Hash))
	return cp, nil
}

// Latest returns the highest checkpoint or nil.
func (s *Service) Latest() (*store.Checkpoint, error) {
	return s.store.Latest()
}

// DiscardAbove drops checkpoints that a reorg at forkPoint made stale.
func (s *Service) DiscardAbove(forkPoint uint64) error {
	return s.store.DeleteAbove(forkPoint)
}

// Verify checks that every stored checkpoint still matches chain. It returns
// the first mismatching height.
func (s *Service) Verify(chain []block.BlockHeader) error {
	latest, err := s.store.Latest()
	if err != nil || latest == nil {
		return err
	}
	for h := s.interval; s.interval > 0 && h <= latest.Height; h += s.interval {
		cp, err := s.store.Get(h)
		if err != nil {
			return err
		}
		if cp == nil || h >= uint64(len(chain)) {
			continue
		}
		if chain[h].Hash != cp.Hash {
			return fmt.Errorf("checkpoint mismatch at height %d: chain %s, checkpoint %s", h, chain[h].Hash, cp.Hash)
		}
	}
	return nil
}
