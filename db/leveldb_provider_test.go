package db

import (
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelDBProvider_BasicOps(t *testing.T) {
	p, err := NewMemLevelDBProvider()
	require.NoError(t, err)
	defer p.Close()

	v, err := p.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, p.Put([]byte("a"), []byte("1")))
	v, err = p.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, p.Delete([]byte("a")))
	v, err = p.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestLevelDBProvider_IteratePrefix(t *testing.T) {
	p, err := NewMemLevelDBProvider()
	require.NoError(t, err)
	defer p.Close()

	for _, k := range []string{"utxo:1", "utxo:2", "utxo:3", "spent:1", "utxp"} {
		require.NoError(t, p.Put([]byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, p.IteratePrefix([]byte("utxo:"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		require.Equal(t, key, value)
		return true
	}))
	require.Equal(t, []string{"utxo:1", "utxo:2", "utxo:3"}, keys)

	count := 0
	require.NoError(t, p.IteratePrefix([]byte("utxo:"), func(key, value []byte) bool {
		count++
		return false
	}))
	require.Equal(t, 1, count)
}

func TestDBTxManager_CommitAndDiscard(t *testing.T) {
	p, err := NewMemLevelDBProvider()
	require.NoError(t, err)
	defer p.Close()
	tm := NewDBTxManager(p)

	require.NoError(t, tm.WithBatch(func(b DatabaseBatch) error {
		b.Put([]byte("x"), []byte("1"))
		b.Put([]byte("y"), []byte("2"))
		return nil
	}))
	v, err := p.Get([]byte("y"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	boom := stderrors.New("boom")
	err = tm.WithBatch(func(b DatabaseBatch) error {
		b.Delete([]byte("x"))
		b.Put([]byte("z"), []byte("3"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, err = p.Get([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v, "failed batch must not be written")
	v, err = p.Get([]byte("z"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestLevelDBProvider_FileBackedReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	p, err := NewLevelDBProvider(dir)
	require.NoError(t, err)
	require.NoError(t, p.Put([]byte("k"), []byte("v")))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "double close is a no-op")

	p2, err := NewLevelDBProvider(dir)
	require.NoError(t, err)
	defer p2.Close()
	v, err := p2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestLevelDBProvider_EmptyBatchIsNoop(t *testing.T) {
	p, err := NewMemLevelDBProvider()
	require.NoError(t, err)
	defer p.Close()

	b := p.Batch()
	require.NoError(t, b.Write())
	b.Put([]byte("k"), []byte("v"))
	b.Reset()
	require.NoError(t, b.Write())

	v, err := p.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)
}
