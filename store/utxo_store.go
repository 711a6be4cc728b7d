package store

import (
	"encoding/binary"

	"github.com/mezonai/mmnchain/db"
	"github.com/mezonai/mmnchain/jsonx"
	"github.com/mezonai/mmnchain/transaction"
	"github.com/pkg/errors"
)

// UTXOChangeSet is the net effect of applying or reverting one block. A nil
// value deletes the key. Keys are OutPoint.String(). Height, when set, is
// the last block the UTXO set reflects once the change lands; it is written
// in the same batch.
type UTXOChangeSet struct {
	Unspent map[string]*transaction.UTXO
	Spent   map[string]*transaction.UTXO
	Height  *uint64
}

func NewUTXOChangeSet() *UTXOChangeSet {
	return &UTXOChangeSet{
		Unspent: make(map[string]*transaction.UTXO),
		Spent:   make(map[string]*transaction.UTXO),
	}
}

func (cs *UTXOChangeSet) Empty() bool {
	return len(cs.Unspent) == 0 && len(cs.Spent) == 0 && cs.Height == nil
}

// SetHeight records the block height the change set brings the UTXO set to.
func (cs *UTXOChangeSet) SetHeight(height uint64) {
	cs.Height = &height
}

// UTXOStore keeps unspent outputs plus a journal of spent ones so spends can be undone.
type UTXOStore interface {
	GetUnspent(op transaction.OutPoint) (*transaction.UTXO, error)
	GetSpent(op transaction.OutPoint) (*transaction.UTXO, error)
	// Commit writes a change set atomically.
	Commit(cs *UTXOChangeSet) error
	ForEachUnspent(fn func(u *transaction.UTXO) bool) error
	// Height is the last block committed with the UTXO set, found=false
	// when no block has been.
	Height() (height uint64, found bool, err error)
	// Clear drops every unspent and spent record and the height.
	Clear() error
}

type GenericUTXOStore struct {
	provider db.DatabaseProvider
	txm      *db.DBTxManager
}

func NewGenericUTXOStore(provider db.DatabaseProvider) (*GenericUTXOStore, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	return &GenericUTXOStore{provider: provider, txm: db.NewDBTxManager(provider)}, nil
}

func unspentKey(key string) []byte {
	return []byte(PrefixUTXO + key)
}

func spentKey(key string) []byte {
	return []byte(PrefixSpent + key)
}

func ledgerHeightKey() []byte {
	return []byte(PrefixLedgerMeta + LedgerMetaKeyHeight)
}

func (s *GenericUTXOStore) GetUnspent(op transaction.OutPoint) (*transaction.UTXO, error) {
	return s.get(unspentKey(op.String()))
}

func (s *GenericUTXOStore) GetSpent(op transaction.OutPoint) (*transaction.UTXO, error) {
	return s.get(spentKey(op.String()))
}

func (s *GenericUTXOStore) get(key []byte) (*transaction.UTXO, error) {
	value, err := s.provider.Get(key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	if value == nil {
		return nil, nil
	}
	var u transaction.UTXO
	if err := jsonx.Unmarshal(value, &u); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s", key)
	}
	return &u, nil
}

func (s *GenericUTXOStore) Commit(cs *UTXOChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		if err := stage(batch, cs.Unspent, unspentKey); err != nil {
			return err
		}
		if err := stage(batch, cs.Spent, spentKey); err != nil {
			return err
		}
		if cs.Height != nil {
			value := make([]byte, 8)
			binary.BigEndian.PutUint64(value, *cs.Height)
			batch.Put(ledgerHeightKey(), value)
		}
		return nil
	})
}

func (s *GenericUTXOStore) Height() (uint64, bool, error) {
	value, err := s.provider.Get(ledgerHeightKey())
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get ledger height")
	}
	if value == nil {
		return 0, false, nil
	}
	if len(value) != 8 {
		return 0, false, errors.Errorf("invalid ledger height length: %d", len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}

func stage(batch db.DatabaseBatch, entries map[string]*transaction.UTXO, keyFn func(string) []byte) error {
	for k, u := range entries {
		if u == nil {
			batch.Delete(keyFn(k))
			continue
		}
		value, err := jsonx.Marshal(u)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal utxo %s", k)
		}
		batch.Put(keyFn(k), value)
	}
	return nil
}

func (s *GenericUTXOStore) ForEachUnspent(fn func(u *transaction.UTXO) bool) error {
	var decodeErr error
	err := s.provider.IteratePrefix([]byte(PrefixUTXO), func(key, value []byte) bool {
		var u transaction.UTXO
		if err := jsonx.Unmarshal(value, &u); err != nil {
			decodeErr = errors.Wrapf(err, "failed to unmarshal %s", key)
			return false
		}
		return fn(&u)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (s *GenericUTXOStore) Clear() error {
	return clearPrefixes(s.provider, s.txm, []byte(PrefixUTXO), []byte(PrefixSpent), []byte(PrefixLedgerMeta))
}

// clearPrefixes deletes every key under the given prefixes in one batch.
func clearPrefixes(provider db.DatabaseProvider, txm *db.DBTxManager, prefixes ...[]byte) error {
	var keys [][]byte
	for _, prefix := range prefixes {
		err := provider.IteratePrefix(prefix, func(key, _ []byte) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return errors.Wrapf(err, "failed to scan %s", prefix)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, k := range keys {
			batch.Delete(k)
		}
		return nil
	})
}
