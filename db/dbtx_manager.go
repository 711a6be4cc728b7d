package db

import "github.com/pkg/errors"

// DBTxManager groups the writes of one state change (a block, a rollback, an
// index rebuild) into a single batch. Either all of them land or none do.
type DBTxManager struct {
	provider DatabaseProvider
}

func NewDBTxManager(provider DatabaseProvider) *DBTxManager {
	return &DBTxManager{provider: provider}
}

// WithBatch hands fn a fresh batch and writes it only if fn returns nil.
func (tm *DBTxManager) WithBatch(fn func(batch DatabaseBatch) error) error {
	batch := tm.provider.Batch()
	defer batch.Close()

	if err := fn(batch); err != nil {
		batch.Reset()
		return errors.Wrap(err, "batch aborted")
	}
	return errors.Wrap(batch.Write(), "batch write failed")
}
