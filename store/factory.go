package store

import (
	"fmt"

	"github.com/mezonai/mmnchain/config"
	"github.com/mezonai/mmnchain/db"
	"github.com/mezonai/mmnchain/logx"
)

// StoreType represents the type of backing database
type StoreType string

const (
	StoreTypeLevelDB StoreType = "leveldb"
	StoreTypeRedis   StoreType = "redis"
	StoreTypeMemory  StoreType = "memory"
)

// Stores bundles every store sharing one provider.
type Stores struct {
	Provider    db.DatabaseProvider
	Blocks      BlockStore
	UTXOs       UTXOStore
	AddrIndex   AddressIndexStore
	Checkpoints CheckpointStore
}

// CreateProvider opens the database described by cfg.
func CreateProvider(cfg config.StoreConfig) (db.DatabaseProvider, error) {
	switch StoreType(cfg.Type) {
	case StoreTypeLevelDB, "":
		if cfg.Directory == "" {
			return nil, fmt.Errorf("leveldb store requires a directory")
		}
		return db.NewLevelDBProvider(cfg.Directory)
	case StoreTypeRedis:
		return db.NewRedisProvider(db.RedisOptions{
			Addr:      cfg.RedisAddr,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
		})
	case StoreTypeMemory:
		return db.NewMemLevelDBProvider()
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// NewStores builds every store on top of provider.
func NewStores(provider db.DatabaseProvider) (*Stores, error) {
	blocks, err := NewGenericBlockStore(provider)
	if err != nil {
		return nil, err
	}
	utxos, err := NewGenericUTXOStore(provider)
	if err != nil {
		return nil, err
	}
	addrIndex, err := NewGenericAddressIndexStore(provider)
	if err != nil {
		return nil, err
	}
	checkpoints, err := NewGenericCheckpointStore(provider)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Provider:    provider,
		Blocks:      blocks,
		UTXOs:       utxos,
		AddrIndex:   addrIndex,
		Checkpoints: checkpoints,
	}, nil
}

// OpenStores creates the provider from cfg and wires the stores to it.
func OpenStores(cfg config.StoreConfig) (*Stores, error) {
	provider, err := CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Type, err)
	}
	stores, err := NewStores(provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	logx.Info("STORE", "Opened ", cfg.Type, " store")
	return stores, nil
}

// Close releases the shared provider.
func (s *Stores) Close() error {
	return s.Provider.Close()
}
