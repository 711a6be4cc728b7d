package mempool

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mezonai/mmnchain/fileutil"
	"github.com/mezonai/mmnchain/logx"
)

type BlacklistEntry struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

type BlacklistData struct {
	Wallets []BlacklistEntry `json:"wallets"`
}

// Blacklist is a persisted set of sender addresses the mempool refuses.
type Blacklist struct {
	mu       sync.RWMutex
	filePath string
	entries  map[string]string
}

func NewBlacklist(dataDir string) *Blacklist {
	return &Blacklist{
		filePath: filepath.Join(dataDir, "blacklist.json"),
		entries:  make(map[string]string),
	}
}

// Load replaces the in-memory set with the file contents; a missing file is empty.
func (bl *Blacklist) Load() error {
	var data BlacklistData
	found, err := fileutil.ReadJSON(bl.filePath, &data)
	if err != nil {
		return fmt.Errorf("failed to load blacklist: %w", err)
	}

	entries := make(map[string]string, len(data.Wallets))
	for _, entry := range data.Wallets {
		entries[entry.Address] = entry.Reason
	}

	bl.mu.Lock()
	bl.entries = entries
	bl.mu.Unlock()

	if found {
		logx.Info("BLACKLIST", fmt.Sprintf("Loaded %d blacklist entries from %s", len(entries), bl.filePath))
	}
	return nil
}

func (bl *Blacklist) Add(address, reason string) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.entries[address] = reason
	return bl.saveLocked()
}

func (bl *Blacklist) Remove(address string) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	delete(bl.entries, address)
	return bl.saveLocked()
}

// Reason returns why address is blacklisted, or ok=false.
func (bl *Blacklist) Reason(address string) (reason string, ok bool) {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	reason, ok = bl.entries[address]
	return reason, ok
}

func (bl *Blacklist) saveLocked() error {
	wallets := make([]BlacklistEntry, 0, len(bl.entries))
	for address, reason := range bl.entries {
		wallets = append(wallets, BlacklistEntry{Address: address, Reason: reason})
	}
	if err := fileutil.WriteJSONAtomic(bl.filePath, BlacklistData{Wallets: wallets}); err != nil {
		return fmt.Errorf("failed to save blacklist: %w", err)
	}
	return nil
}
