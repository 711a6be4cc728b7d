package store

import (
	"encoding/binary"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/db"
	"github.com/mezonai/mmnchain/jsonx"
	"github.com/pkg/errors"
)

// Checkpoint pins a canonical block hash at a height.
type Checkpoint struct {
	Height    uint64     `json:"height"`
	Hash      block.Hash `json:"hash"`
	ChainWork string     `json:"chain_work"`
	CreatedAt int64      `json:"created_at"`
}

type CheckpointStore interface {
	Save(cp *Checkpoint) error
	Get(height uint64) (*Checkpoint, error)
	// Latest returns the highest checkpoint, or nil if there is none.
	Latest() (*Checkpoint, error)
	// DeleteAbove removes checkpoints strictly above height.
	DeleteAbove(height uint64) error
}

type GenericCheckpointStore struct {
	provider db.DatabaseProvider
	txm      *db.DBTxManager
}

func NewGenericCheckpointStore(provider db.DatabaseProvider) (*GenericCheckpointStore, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	return &GenericCheckpointStore{provider: provider, txm: db.NewDBTxManager(provider)}, nil
}

func checkpointKey(height uint64) []byte {
	key := make([]byte, len(PrefixCheckpoint)+8)
	copy(key, PrefixCheckpoint)
	binary.BigEndian.PutUint64(key[len(PrefixCheckpoint):], height)
	return key
}

func (s *GenericCheckpointStore) Save(cp *Checkpoint) error {
	value, err := jsonx.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}
	return s.provider.Put(checkpointKey(cp.Height), value)
}

func (s *GenericCheckpointStore) Get(height uint64) (*Checkpoint, error) {
	value, err := s.provider.Get(checkpointKey(height))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get checkpoint %d", height)
	}
	if value == nil {
		return nil, nil
	}
	var cp Checkpoint
	if err := jsonx.Unmarshal(value, &cp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *GenericCheckpointStore) all() ([]*Checkpoint, error) {
	var out []*Checkpoint
	var decodeErr error
	err := s.provider.IteratePrefix([]byte(PrefixCheckpoint), func(_, value []byte) bool {
		var cp Checkpoint
		if err := jsonx.Unmarshal(value, &cp); err != nil {
			decodeErr = errors.Wrap(err, "failed to unmarshal checkpoint")
			return false
		}
		out = append(out, &cp)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (s *GenericCheckpointStore) Latest() (*Checkpoint, error) {
	cps, err := s.all()
	if err != nil {
		return nil, err
	}
	var latest *Checkpoint
	for _, cp := range cps {
		if latest == nil || cp.Height > latest.Height {
			latest = cp
		}
	}
	return latest, nil
}

func (s *GenericCheckpointStore) DeleteAbove(height uint64) error {
	cps, err := s.all()
	if err != nil {
		return err
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, cp := range cps {
			if cp.Height > height {
				batch.Delete(checkpointKey(cp.Height))
			}
		}
		return nil
	})
}
