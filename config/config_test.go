package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadNodeConfig_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chain.ini", `
[chain]
data_dir = /tmp/node1
max_reorg_depth = 12

[finality]
threshold = 0.75

[metrics]
listen_addr = :9100
`)

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/node1", cfg.Chain.DataDir)
	require.Equal(t, uint64(12), cfg.Chain.MaxReorgDepth)
	require.Equal(t, DefaultOrphanMaxBlocks, cfg.Chain.OrphanMaxBlocks)
	require.Equal(t, 0.75, cfg.Finality.Threshold)
	require.Equal(t, DefaultFinalityDomain, cfg.Finality.Domain)
	require.Equal(t, "leveldb", cfg.Store.Type)
	require.Equal(t, DefaultRedisNamespace, cfg.Store.RedisNamespace)
	require.Equal(t, filepath.Join("/tmp/node1", "db"), cfg.Store.Directory)
	require.Equal(t, ":9100", cfg.Metrics.ListenAddr)
}

func TestLoadNodeConfig_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadNodeConfig(writeFile(t, dir, "a.ini", "[finality]\nthreshold = 1.5\n"))
	require.ErrorContains(t, err, "finality.threshold")

	_, err = LoadNodeConfig(writeFile(t, dir, "b.ini", "[store]\ntype = rocksdb\n"))
	require.ErrorContains(t, err, "unsupported store type")

	_, err = LoadNodeConfig(writeFile(t, dir, "c.ini", "[store]\ntype = redis\n"))
	require.ErrorContains(t, err, "store.redis_addr")

	_, err = LoadNodeConfig(filepath.Join(dir, "missing.ini"))
	require.Error(t, err)
}

func TestGenesisSpec_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "genesis.yml")
	spec := &GenesisSpec{
		Timestamp:   1700000000.25,
		Difficulty:  4,
		Nonce:       17,
		Hash:        "00ab",
		MinerPubKey: "genesis-miner",
		Version:     1,
		Allocations: []Allocation{{Address: "alice", Amount: 1000}, {Address: "bob", Amount: 5}},
	}
	require.NoError(t, SaveGenesisSpec(path, spec))

	loaded, err := LoadGenesisSpec(path)
	require.NoError(t, err)
	require.Equal(t, spec, loaded)
}

func TestLoadValidators(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "validators.yml", `
validators:
  - address: val-1
    public_key: 3mJr7AoUXx2Wqd
    voting_power: 10
  - address: val-2
    public_key: 3mJr7AoUXx2We1
    voting_power: 20
`)
	vals, err := LoadValidators(path)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.Equal(t, "val-2", vals[1].Address)
	require.Equal(t, uint64(20), vals[1].VotingPower)
}
