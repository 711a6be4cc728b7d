package config

// Allocation is an initial balance minted by the genesis block.
type Allocation struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// GenesisSpec is the deterministic genesis description. Nonce and Hash are
// written back after local mining so later loads re-verify instead of re-mining.
type GenesisSpec struct {
	Timestamp   float64      `yaml:"timestamp"`
	Difficulty  uint32       `yaml:"difficulty"`
	Nonce       uint64       `yaml:"nonce"`
	Hash        string       `yaml:"hash,omitempty"`
	MinerPubKey string       `yaml:"miner_pubkey"`
	Version     uint32       `yaml:"version"`
	Allocations []Allocation `yaml:"allocations"`
}

// GenesisFile is the top-level structure for genesis.yml
type GenesisFile struct {
	Genesis GenesisSpec `yaml:"genesis"`
}

// ValidatorConfig is one entry of the finality validator roster.
type ValidatorConfig struct {
	Address     string `yaml:"address"`
	PublicKey   string `yaml:"public_key"`
	VotingPower uint64 `yaml:"voting_power"`
}

// ValidatorsFile is the top-level structure for validators.yml
type ValidatorsFile struct {
	Validators []ValidatorConfig `yaml:"validators"`
}

type ChainConfig struct {
	DataDir            string `ini:"data_dir"`
	MaxReorgDepth      uint64 `ini:"max_reorg_depth"`
	OrphanMaxBlocks    int    `ini:"orphan_max_blocks"`
	OrphanMaxAge       uint64 `ini:"orphan_max_age"`
	CheckpointInterval uint64 `ini:"checkpoint_interval"`
	CoinbaseReward     uint64 `ini:"coinbase_reward"`
}

type StoreConfig struct {
	Type      string `ini:"type"`
	Directory string `ini:"directory"`
	RedisAddr string `ini:"redis_addr"`
	RedisDB   int    `ini:"redis_db"`
	// RedisNamespace prefixes every key this node writes to redis.
	RedisNamespace string `ini:"redis_namespace"`
}

type FinalityConfig struct {
	Threshold float64 `ini:"threshold"`
	Domain    string  `ini:"domain"`
}

type MempoolConfig struct {
	MaxTxs              int `ini:"max_txs"`
	MaxPendingPerSender int `ini:"max_pending_per_sender"`
}

type MetricsConfig struct {
	ListenAddr string `ini:"listen_addr"`
}

// NodeConfig groups every section of chain.ini.
type NodeConfig struct {
	Chain    ChainConfig
	Store    StoreConfig
	Finality FinalityConfig
	Mempool  MempoolConfig
	Metrics  MetricsConfig
}
