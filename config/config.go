package config

import (
	"os"
	"path/filepath"

	"github.com/mezonai/mmnchain/logx"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxReorgDepth      = 100
	DefaultOrphanMaxBlocks    = 500
	DefaultOrphanMaxAge       = 100
	DefaultCheckpointInterval = 1000
	DefaultCoinbaseReward     = 50
	DefaultFinalityThreshold  = 2.0 / 3.0
	DefaultFinalityDomain     = "MMN-FINALITY-V1"
	DefaultMempoolMaxTxs      = 10000
	DefaultMaxPendingSender   = 64
	DefaultStoreType          = "leveldb"
	DefaultRedisNamespace     = "mmnchain:"
	DefaultDataDir            = "./data"
)

// DefaultNodeConfig is used for every key chain.ini leaves out.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Chain: ChainConfig{
			DataDir:            DefaultDataDir,
			MaxReorgDepth:      DefaultMaxReorgDepth,
			OrphanMaxBlocks:    DefaultOrphanMaxBlocks,
			OrphanMaxAge:       DefaultOrphanMaxAge,
			CheckpointInterval: DefaultCheckpointInterval,
			CoinbaseReward:     DefaultCoinbaseReward,
		},
		Store: StoreConfig{
			Type:           DefaultStoreType,
			RedisNamespace: DefaultRedisNamespace,
		},
		Finality: FinalityConfig{
			Threshold: DefaultFinalityThreshold,
			Domain:    DefaultFinalityDomain,
		},
		Mempool: MempoolConfig{
			MaxTxs:              DefaultMempoolMaxTxs,
			MaxPendingPerSender: DefaultMaxPendingSender,
		},
	}
}

// LoadNodeConfig reads chain.ini; absent sections keep their defaults.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	cfg := DefaultNodeConfig()
	sections := []struct {
		name   string
		target interface{}
	}{
		{"chain", &cfg.Chain},
		{"store", &cfg.Store},
		{"finality", &cfg.Finality},
		{"mempool", &cfg.Mempool},
		{"metrics", &cfg.Metrics},
	}
	for _, s := range sections {
		if err := file.Section(s.name).MapTo(s.target); err != nil {
			return nil, errors.Wrapf(err, "map section [%s]", s.name)
		}
	}
	if cfg.Store.Directory == "" {
		cfg.Store.Directory = filepath.Join(cfg.Chain.DataDir, "db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", "Loaded node config from ", path, ": data_dir=", cfg.Chain.DataDir,
		" store=", cfg.Store.Type, " max_reorg_depth=", cfg.Chain.MaxReorgDepth)
	return cfg, nil
}

func (c *NodeConfig) Validate() error {
	if c.Chain.DataDir == "" {
		return errors.New("chain.data_dir cannot be empty")
	}
	if c.Chain.OrphanMaxBlocks <= 0 {
		return errors.Errorf("chain.orphan_max_blocks must be positive, got %d", c.Chain.OrphanMaxBlocks)
	}
	if c.Finality.Threshold <= 0 || c.Finality.Threshold > 1 {
		return errors.Errorf("finality.threshold must be in (0, 1], got %v", c.Finality.Threshold)
	}
	if c.Finality.Domain == "" {
		return errors.New("finality.domain cannot be empty")
	}
	switch c.Store.Type {
	case "leveldb":
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis store")
		}
	default:
		return errors.Errorf("unsupported store type: %s", c.Store.Type)
	}
	return nil
}

// LoadGenesisSpec reads and parses a genesis.yml file
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var gf GenesisFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&gf); err != nil {
		return nil, errors.Wrapf(err, "decode genesis spec %s", path)
	}
	logx.Info("CONFIG", "Loaded genesis spec ", path, ": allocations=", len(gf.Genesis.Allocations),
		" difficulty=", gf.Genesis.Difficulty)
	return &gf.Genesis, nil
}

// SaveGenesisSpec writes spec back to path (used to record the mined nonce/hash).
func SaveGenesisSpec(path string, spec *GenesisSpec) error {
	data, err := yaml.Marshal(&GenesisFile{Genesis: *spec})
	if err != nil {
		return errors.Wrap(err, "encode genesis spec")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create genesis directory")
	}
	return os.WriteFile(path, data, 0644)
}

// LoadValidators reads the finality validator roster from validators.yml
func LoadValidators(path string) ([]ValidatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vf ValidatorsFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, errors.Wrapf(err, "decode validators %s", path)
	}
	return vf.Validators, nil
}

// IsNotExist reports whether err means a config file is absent.
func IsNotExist(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}
