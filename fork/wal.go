package fork

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mezonai/mmnchain/block"
	"github.com/mezonai/mmnchain/fileutil"
	"github.com/mezonai/mmnchain/logx"
	"github.com/pkg/errors"
)

const WALFile = "reorg_wal.json"

type WALStatus string

const (
	WALInProgress WALStatus = "InProgress"
	WALCommitted  WALStatus = "Committed"
)

// WALEntry describes one reorganization. An InProgress entry found at
// startup means the node stopped between rollback and commit.
type WALEntry struct {
	Timestamp  int64      `json:"timestamp"`
	OldTipHash block.Hash `json:"old_tip_hash"`
	NewTipHash block.Hash `json:"new_tip_hash"`
	ForkPoint  uint64     `json:"fork_point"`
	OldHeight  uint64     `json:"old_height"`
	NewHeight  uint64     `json:"new_height"`
	Status     WALStatus  `json:"status"`
}

// WAL is the single-entry reorg write-ahead log. With an empty directory the
// entry is only kept in memory.
type WAL struct {
	mu    sync.Mutex
	path  string
	entry *WALEntry
}

func NewWAL(dataDir string) *WAL {
	w := &WAL{}
	if dataDir != "" {
		w.path = filepath.Join(dataDir, WALFile)
	}
	return w
}

func (w *WAL) Path() string {
	return w.path
}

// Begin durably records entry as InProgress. It must succeed before the
// chain is touched.
func (w *WAL) Begin(entry WALEntry) error {
	entry.Status = WALInProgress
	entry.Timestamp = time.Now().Unix()
	return w.write(entry)
}

// Commit overwrites the entry with its Committed form.
func (w *WAL) Commit(entry WALEntry) error {
	entry.Status = WALCommitted
	entry.Timestamp = time.Now().Unix()
	return w.write(entry)
}

func (w *WAL) write(entry WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path != "" {
		if err := fileutil.WriteJSONAtomic(w.path, entry); err != nil {
			return err
		}
	}
	w.entry = &entry
	logx.Debug("REORG_WAL", "status=", entry.Status, " fork_point=", entry.ForkPoint, " new_tip=", entry.NewTipHash.String())
	return nil
}

// Read returns the current entry, nil when there is none.
func (w *WAL) Read() (*WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path == "" {
		if w.entry == nil {
			return nil, nil
		}
		cp := *w.entry
		return &cp, nil
	}
	var entry WALEntry
	found, err := fileutil.ReadJSON(w.path, &entry)
	if err != nil {
		return nil, errors.Wrap(err, "read reorg wal")
	}
	if !found {
		return nil, nil
	}
	return &entry, nil
}

// Clear removes the entry. Clearing an absent WAL is not an error.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entry = nil
	if w.path == "" {
		return nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove reorg wal")
	}
	return nil
}
