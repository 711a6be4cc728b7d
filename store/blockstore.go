package store

import (
	"encoding/binary"
	"sync"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/db"
	"github.com/mezonai/mmnchain/jsonx"
	"github.com/mezonai/mmnchain/logx"
	"github.com/pkg/errors"
)

// BlockStore is the durable, index-addressable block body store.
type BlockStore interface {
	// Save writes the block under its index and its hash.
	Save(b *block.Block) error
	// Load returns the block at index, or nil if none was saved.
	Load(index uint64) (*block.Block, error)
	// LoadByHash returns any saved block with that hash, canonical or not.
	LoadByHash(hash block.Hash) (*block.Block, error)
	// SetTip records the canonical chain height.
	SetTip(index uint64) error
	// Tip returns the canonical chain height, found=false on an empty store.
	Tip() (index uint64, found bool, err error)
	MustClose()
}

// GenericBlockStore is a database-agnostic implementation over DatabaseProvider
type GenericBlockStore struct {
	provider db.DatabaseProvider
	txm      *db.DBTxManager
	mu       sync.RWMutex
}

// NewGenericBlockStore creates a new generic block store with the given provider
func NewGenericBlockStore(provider db.DatabaseProvider) (*GenericBlockStore, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	return &GenericBlockStore{provider: provider, txm: db.NewDBTxManager(provider)}, nil
}

// indexToBlockKey converts a block index to a block storage key
func indexToBlockKey(index uint64) []byte {
	key := make([]byte, len(PrefixBlock)+8)
	copy(key, PrefixBlock)
	binary.BigEndian.PutUint64(key[len(PrefixBlock):], index)
	return key
}

func hashToBlockKey(hash block.Hash) []byte {
	return append([]byte(PrefixBlockByHash), hash[:]...)
}

func tipKey() []byte {
	return []byte(PrefixBlockMeta + BlockMetaKeyTip)
}

func (s *GenericBlockStore) Save(b *block.Block) error {
	if b == nil {
		return errors.New("block cannot be nil")
	}
	value, err := jsonx.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "failed to marshal block")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		batch.Put(indexToBlockKey(b.Header.Index), value)
		batch.Put(hashToBlockKey(b.Header.Hash), value)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to store block %d", b.Header.Index)
	}
	logx.Debug("BLOCKSTORE", "Saved block ", b.Header.Index, " hash=", b.Header.Hash.String())
	return nil
}

func (s *GenericBlockStore) Load(index uint64) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(indexToBlockKey(index))
}

func (s *GenericBlockStore) LoadByHash(hash block.Hash) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(hashToBlockKey(hash))
}

func (s *GenericBlockStore) get(key []byte) (*block.Block, error) {
	value, err := s.provider.Get(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get block")
	}
	if value == nil {
		return nil, nil
	}
	var blk block.Block
	if err := jsonx.Unmarshal(value, &blk); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal block")
	}
	return &blk, nil
}

func (s *GenericBlockStore) SetTip(index uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, index)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.provider.Put(tipKey(), value); err != nil {
		return errors.Wrap(err, "failed to update chain tip")
	}
	return nil
}

func (s *GenericBlockStore) Tip() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.provider.Get(tipKey())
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get chain tip")
	}
	if value == nil {
		return 0, false, nil
	}
	if len(value) != 8 {
		return 0, false, errors.Errorf("invalid chain tip value length: %d", len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}

// MustClose closes the underlying database provider
func (s *GenericBlockStore) MustClose() {
	if err := s.provider.Close(); err != nil {
		logx.Error("BLOCKSTORE", "Failed to close provider: ", err)
	}
}
