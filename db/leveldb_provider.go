package db

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBProvider is the default chain database. The file-backed variant
// fsyncs every write and batch so an acknowledged block survives a crash.
type LevelDBProvider struct {
	db    *leveldb.DB
	write *opt.WriteOptions
	once  sync.Once
}

func NewLevelDBProvider(directory string) (DatabaseProvider, error) {
	ldb, err := leveldb.OpenFile(directory, &opt.Options{Strict: opt.DefaultStrict})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open leveldb at %s", directory)
	}
	return &LevelDBProvider{db: ldb, write: &opt.WriteOptions{Sync: true}}, nil
}

// NewMemLevelDBProvider keeps everything in memory; tests and dry runs use it.
func NewMemLevelDBProvider() (DatabaseProvider, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open in-memory leveldb")
	}
	return &LevelDBProvider{db: ldb}, nil
}

func (p *LevelDBProvider) Get(key []byte) ([]byte, error) {
	value, err := p.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (p *LevelDBProvider) Put(key, value []byte) error {
	return p.db.Put(key, value, p.write)
}

func (p *LevelDBProvider) Delete(key []byte) error {
	return p.db.Delete(key, p.write)
}

// IteratePrefix visits keys in ascending byte order. Key and value are
// copies and may be retained by the callback.
func (p *LevelDBProvider) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	it := p.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	for it.Next() {
		if !fn(append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...)) {
			break
		}
	}
	return it.Error()
}

// Close is idempotent; several stores share one provider.
func (p *LevelDBProvider) Close() error {
	var err error
	p.once.Do(func() { err = p.db.Close() })
	return err
}

func (p *LevelDBProvider) Batch() DatabaseBatch {
	return &levelDBBatch{p: p}
}

type levelDBBatch struct {
	p     *LevelDBProvider
	batch leveldb.Batch
}

func (b *levelDBBatch) Put(key, value []byte) { b.batch.Put(key, value) }

func (b *levelDBBatch) Delete(key []byte) { b.batch.Delete(key) }

func (b *levelDBBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	return b.p.db.Write(&b.batch, b.p.write)
}

func (b *levelDBBatch) Reset() { b.batch.Reset() }

func (b *levelDBBatch) Close() error { return nil }
