package btree

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/memstore"
)

const testLocker contract.LockerID = 1

func intKey(v uint32) []compare.AttrValue {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return []compare.AttrValue{{Bytes: buf}}
}

func newTestTree(t *testing.T, opt Options) (*Tree, *memstore.Cache) {
	t.Helper()
	cache := memstore.NewCache(t.TempDir(), 256, nil)
	locks := memstore.NewLockManager()
	if opt.Spec == nil {
		opt.Spec = compare.KeySpec{{Type: compare.AttrFixed, Size: 4}}
	}
	tree, err := Open(context.Background(), cache, locks, contract.FileID(1), opt)
	require.NoError(t, err)
	return tree, cache
}

func TestInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})

	require.NoError(t, tree.Insert(ctx, testLocker, intKey(1), []byte("one")))
	require.NoError(t, tree.Insert(ctx, testLocker, intKey(2), []byte("two")))
	require.NoError(t, tree.Insert(ctx, testLocker, intKey(3), []byte("three")))

	v, ok, err := tree.Get(ctx, testLocker, intKey(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("two"), v)

	_, ok, err = tree.Get(ctx, testLocker, intKey(99))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertUniqueRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})

	require.NoError(t, tree.Insert(ctx, testLocker, intKey(1), []byte("a")))
	err := tree.Insert(ctx, testLocker, intKey(1), []byte("b"))
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.KeyExists, kind)
}

func TestInsertManyCausesSplit(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})

	const n = 200
	for i := uint32(0); i < n; i++ {
		val := make([]byte, 16)
		binary.BigEndian.PutUint32(val, i)
		require.NoError(t, tree.Insert(ctx, testLocker, intKey(i), val))
	}

	for i := uint32(0); i < n; i++ {
		v, ok, err := tree.Get(ctx, testLocker, intKey(i))
		require.NoError(t, err, "key %d", i)
		require.True(t, ok, "key %d missing after split", i)
		require.Equal(t, i, binary.BigEndian.Uint32(v))
	}
}

func TestInsertRandomOrderSurvivesSplits(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})
	rng := rand.New(rand.NewSource(42))

	const n = 150
	keys := rng.Perm(n)
	for _, k := range keys {
		val := make([]byte, 8)
		binary.BigEndian.PutUint32(val, uint32(k))
		require.NoError(t, tree.Insert(ctx, testLocker, intKey(uint32(k)), val))
	}
	for _, k := range keys {
		v, ok, err := tree.Get(ctx, testLocker, intKey(uint32(k)))
		require.NoError(t, err)
		require.True(t, ok, "key %d missing", k)
		require.Equal(t, uint32(k), binary.BigEndian.Uint32(v))
	}
}

func TestSortedDuplicatesInlineAndPromoted(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Sorted: true})

	key := intKey(7)
	for i := uint32(0); i < 5; i++ {
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, i)
		require.NoError(t, tree.Insert(ctx, testLocker, key, val))
	}

	// while still inline, re-inserting an existing (key, val) pair must be
	// rejected as a duplicate in sorted mode.
	dupVal := make([]byte, 4)
	binary.BigEndian.PutUint32(dupVal, 3)
	err := tree.Insert(ctx, testLocker, key, dupVal)
	require.Error(t, err)

	// pushing the run past maxInlineDups promotes it to an off-page
	// duplicate subtree; Get still reports existence even though it can no
	// longer surface a single inline value.
	for i := uint32(5); i < 20; i++ {
		val := make([]byte, 4)
		binary.BigEndian.PutUint32(val, i)
		require.NoError(t, tree.Insert(ctx, testLocker, key, val))
	}
	_, ok, err := tree.Get(ctx, testLocker, key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnsortedDuplicatesAppend(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Sorted: false})

	key := intKey(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Insert(ctx, testLocker, key, []byte{byte(i)}))
	}
	// unsorted duplicates tolerate repeated values since there is no
	// binary-search tie-break to collide on.
	require.NoError(t, tree.Insert(ctx, testLocker, key, []byte{0}))

	_, ok, err := tree.Get(ctx, testLocker, key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteThenPhysicalDeleteRemovesEntry(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})

	require.NoError(t, tree.Insert(ctx, testLocker, intKey(10), []byte("x")))

	require.NoError(t, tree.Delete(ctx, testLocker, intKey(10), nil))
	// logical delete: the entry is pending-delete and invisible to Get.
	_, ok, err := tree.Get(ctx, testLocker, intKey(10))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tree.PhysicalDelete(ctx, testLocker, intKey(10)))
	_, ok, err = tree.Get(ctx, testLocker, intKey(10))
	require.NoError(t, err)
	require.False(t, ok)

	// re-inserting the same key after physical removal must succeed.
	require.NoError(t, tree.Insert(ctx, testLocker, intKey(10), []byte("y")))
	v, ok, err := tree.Get(ctx, testLocker, intKey(10))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("y"), v)
}

func TestReverseSplitDetachesEmptyLeaf(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true, ReverseSplit: true})

	const n = 120
	for i := uint32(0); i < n; i++ {
		val := make([]byte, 16)
		binary.BigEndian.PutUint32(val, i)
		require.NoError(t, tree.Insert(ctx, testLocker, intKey(i), val))
	}

	// delete (logically, then physically) a contiguous run of keys large
	// enough to empty at least one leaf and trigger a reverse-split.
	for i := uint32(0); i < n/2; i++ {
		require.NoError(t, tree.Delete(ctx, testLocker, intKey(i), nil))
	}
	for i := uint32(0); i < n/2; i++ {
		require.NoError(t, tree.PhysicalDelete(ctx, testLocker, intKey(i)))
	}

	for i := uint32(0); i < n/2; i++ {
		_, ok, err := tree.Get(ctx, testLocker, intKey(i))
		require.NoError(t, err)
		require.False(t, ok, "key %d should be gone", i)
	}
	for i := n / 2; i < n; i++ {
		v, ok, err := tree.Get(ctx, testLocker, intKey(i))
		require.NoError(t, err)
		require.True(t, ok, "key %d should survive the reverse-split", i)
		require.Equal(t, i, binary.BigEndian.Uint32(v))
	}
}

func TestGetOnEmptyTree(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Unique: true})

	_, ok, err := tree.Get(ctx, testLocker, intKey(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReopenSurvivesAcrossMetaReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	locks := memstore.NewLockManager()
	spec := compare.KeySpec{{Type: compare.AttrFixed, Size: 4}}

	cache := memstore.NewCache(dir, 256, nil)
	tree, err := Open(ctx, cache, locks, contract.FileID(1), Options{Spec: spec, Unique: true})
	require.NoError(t, err)

	const n = 100
	for i := uint32(0); i < n; i++ {
		require.NoError(t, tree.Insert(ctx, testLocker, intKey(i), []byte{byte(i)}))
	}

	// re-open against the same cache/file: Open must read back the
	// now-non-empty meta page's root rather than re-bootstrapping.
	tree2, err := Open(ctx, cache, locks, contract.FileID(1), Options{Spec: spec, Unique: true})
	require.NoError(t, err)

	for i := uint32(0); i < n; i++ {
		v, ok, err := tree2.Get(ctx, testLocker, intKey(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, byte(i), v[0])
	}
}
