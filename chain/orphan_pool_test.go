package chain

import (
	"testing"

	"github.com/mezonai/mmnchain/block"
	"github.com/stretchr/testify/require"
)

func orphan(height uint64, tag byte) *block.Block {
	return &block.Block{Header: block.BlockHeader{Index: height, Hash: block.Hash{tag, byte(height)}}}
}

func TestOrphanPool_AddDedupAndFind(t *testing.T) {
	pool := NewOrphanPool(10, 100)

	a := orphan(5, 1)
	require.True(t, pool.Add(a))
	require.False(t, pool.Add(orphan(5, 1)), "same hash must not be pooled twice")
	require.True(t, pool.Add(orphan(5, 2)))
	require.Equal(t, 2, pool.Len())
	require.Len(t, pool.AtHeight(5), 2)

	require.Equal(t, a, pool.Find(5, a.Header.Hash))
	require.Nil(t, pool.Find(6, a.Header.Hash))
	require.Equal(t, a, pool.FindByHash(a.Header.Hash))

	require.True(t, pool.Remove(5, a.Header.Hash))
	require.False(t, pool.Remove(5, a.Header.Hash))
	require.Equal(t, 1, pool.Len())
}

func TestOrphanPool_PruneByAge(t *testing.T) {
	pool := NewOrphanPool(0, 100)
	pool.Add(orphan(10, 1))
	pool.Add(orphan(50, 1))
	pool.Add(orphan(200, 1))

	require.Equal(t, 1, pool.Prune(150))
	require.Equal(t, []uint64{50, 200}, pool.Heights())
}

func TestOrphanPool_PruneByCountLowestFirst(t *testing.T) {
	pool := NewOrphanPool(3, 0)
	pool.Add(orphan(7, 1))
	pool.Add(orphan(3, 1))
	pool.Add(orphan(3, 2))
	pool.Add(orphan(5, 1))
	pool.Add(orphan(9, 1))

	require.Equal(t, 2, pool.Prune(10))
	require.Equal(t, 3, pool.Len())
	require.Equal(t, []uint64{5, 7, 9}, pool.Heights())

	pool.Add(orphan(5, 2))
	require.Equal(t, 1, pool.Prune(10))
	require.Len(t, pool.AtHeight(5), 1)
}
