package page

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
)

// TestUpgradePassBumpsMetaVersion is end-to-end scenario S7 (spec.md §8):
// running Upgrade over a file with a v7 btree meta page leaves it at
// MetaVersion, and a second pass is a no-op.
func TestUpgradePassBumpsMetaVersion(t *testing.T) {
	ctx := context.Background()
	const pageSize = 512
	cache := memstore.NewCache(t.TempDir(), pageSize, nil)
	t.Cleanup(func() { _ = cache.Close() })

	file := contract.FileID(1)
	pgno, buf, err := cache.Alloc(ctx, file)
	require.NoError(t, err)
	require.Len(t, buf, pageSize)

	buf[24] = byte(TypeBTreeMeta)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], 7)
	require.NoError(t, cache.Put(file, pgno, true))

	require.NoError(t, Upgrade(ctx, cache, file, pgno))

	got, err := cache.Get(ctx, file, pgno)
	require.NoError(t, err)
	require.Equal(t, uint32(MetaVersion), binary.LittleEndian.Uint32(got[HeaderSize:HeaderSize+4]))
	require.NoError(t, cache.Put(file, pgno, false))

	// a second pass over an already-current meta page is a no-op.
	require.NoError(t, Upgrade(ctx, cache, file, pgno))
}

func TestUpgradeUnknownVersionIsOldVersion(t *testing.T) {
	ctx := context.Background()
	const pageSize = 512
	cache := memstore.NewCache(t.TempDir(), pageSize, nil)
	t.Cleanup(func() { _ = cache.Close() })

	file := contract.FileID(1)
	pgno, buf, err := cache.Alloc(ctx, file)
	require.NoError(t, err)

	buf[24] = byte(TypeBTreeMeta)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], 3)
	require.NoError(t, cache.Put(file, pgno, true))

	err = Upgrade(ctx, cache, file, pgno)
	require.Error(t, err)
}
