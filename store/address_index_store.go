package store

import (
	"encoding/binary"
	"strings"

	"github.com/mezonai/mmnchain/db"
	"github.com/pkg/errors"
)

// AddressEntry records that a transaction touching Address lives in block BlockIndex.
type AddressEntry struct {
	Address    string
	TxID       string
	BlockIndex uint64
}

// AddressIndexStore maps addresses to the transactions that pay or spend them.
type AddressIndexStore interface {
	Put(entries []AddressEntry) error
	Remove(entries []AddressEntry) error
	ByAddress(address string) ([]AddressEntry, error)
	Clear() error
}

type GenericAddressIndexStore struct {
	provider db.DatabaseProvider
	txm      *db.DBTxManager
}

func NewGenericAddressIndexStore(provider db.DatabaseProvider) (*GenericAddressIndexStore, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	return &GenericAddressIndexStore{provider: provider, txm: db.NewDBTxManager(provider)}, nil
}

func addressPrefix(address string) []byte {
	return []byte(PrefixAddrTx + address + "|")
}

func addressKey(e AddressEntry) []byte {
	return append(addressPrefix(e.Address), e.TxID...)
}

func (s *GenericAddressIndexStore) Put(entries []AddressEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, e := range entries {
			value := make([]byte, 8)
			binary.BigEndian.PutUint64(value, e.BlockIndex)
			batch.Put(addressKey(e), value)
		}
		return nil
	})
}

func (s *GenericAddressIndexStore) Remove(entries []AddressEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, e := range entries {
			batch.Delete(addressKey(e))
		}
		return nil
	})
}

func (s *GenericAddressIndexStore) ByAddress(address string) ([]AddressEntry, error) {
	prefix := addressPrefix(address)
	var out []AddressEntry
	var decodeErr error
	err := s.provider.IteratePrefix(prefix, func(key, value []byte) bool {
		if len(value) != 8 {
			decodeErr = errors.Errorf("invalid address index value for %s", key)
			return false
		}
		out = append(out, AddressEntry{
			Address:    address,
			TxID:       strings.TrimPrefix(string(key), string(prefix)),
			BlockIndex: binary.BigEndian.Uint64(value),
		})
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan address %s", address)
	}
	return out, decodeErr
}

func (s *GenericAddressIndexStore) Clear() error {
	return clearPrefixes(s.provider, s.txm, []byte(PrefixAddrTx))
}
