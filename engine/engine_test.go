package engine

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/cursor"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/memstore"
)

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

var testSpec = compare.KeySpec{{Type: compare.AttrFixed, Size: 8}}

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	cache := memstore.NewCache(t.TempDir(), 512, nil)
	t.Cleanup(func() { _ = cache.Close() })
	heap := memstore.NewHeap()
	locks := memstore.NewLockManager()
	return NewEnvironment(cache, locks, heap, nil, nil, nil)
}

func TestCreateIndexRejectsDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	_, err := CreateIndex(env, "primary", testSpec, IndexFlags{}, 512)
	require.NoError(t, err)

	_, err = CreateIndex(env, "primary", testSpec, IndexFlags{}, 512)
	require.Error(t, err)
	kind, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.KeyExists, kind)
}

func TestPutGetDeleteOnBTreeFragment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idx, err := CreateIndex(env, "primary", testSpec, IndexFlags{Checksum: true}, 512)
	require.NoError(t, err)

	frag, err := idx.OpenFragment(ctx, env, contract.FragmentID(1), contract.FileID(1))
	require.NoError(t, err)
	require.Equal(t, FragmentBTree, frag.Kind)

	key := []compare.AttrValue{{Bytes: encodeInt(42)}}
	err = env.Put(ctx, idx, contract.FragmentID(1), contract.LockerID(1), contract.TxnID(1), contract.NullTupLoc, 0, key, []byte("hello"))
	require.NoError(t, err)

	val, found, err := env.Get(ctx, idx, contract.FragmentID(1), contract.LockerID(1), key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), val)

	count, bytes, ops, err := env.Stat(idx, contract.FragmentID(1))
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, int64(5), bytes)
	require.Equal(t, int64(1), ops)

	err = env.Delete(ctx, idx, contract.FragmentID(1), contract.LockerID(1), contract.TxnID(1), contract.NullTupLoc, 0, key, []byte("hello"))
	require.NoError(t, err)
}

func TestSecondaryIndexMaintainedOnPrimaryPut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	primary, err := CreateIndex(env, "primary", testSpec, IndexFlags{}, 512)
	require.NoError(t, err)
	_, err = primary.OpenFragment(ctx, env, contract.FragmentID(1), contract.FileID(1))
	require.NoError(t, err)

	secondary, err := CreateIndex(env, "secondary", testSpec, IndexFlags{InMemoryOnly: true}, 0)
	require.NoError(t, err)
	secFrag, err := secondary.OpenFragment(ctx, env, contract.FragmentID(2), contract.FileID(0))
	require.NoError(t, err)
	require.Equal(t, FragmentTTree, secFrag.Kind)

	primary.Secondary = NewSecondaryIndexSet()
	primary.Secondary.Add(SecondaryEntry{Fragment: secFrag})

	loc := env.Heap.(*memstore.Heap).PutRow(contract.FragmentID(2), encodeInt(7), [][]byte{encodeInt(7)}, 1, contract.TxnID(1), true)

	key := []compare.AttrValue{{Bytes: encodeInt(7)}}
	err = env.Put(ctx, primary, contract.FragmentID(1), contract.LockerID(1), contract.TxnID(1), loc, 1, key, []byte("v"))
	require.NoError(t, err)

	pos, err := secFrag.TTree.First(ctx)
	require.NoError(t, err)
	gotLoc, _, err := secFrag.TTree.Entry(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, loc, gotLoc)
}

func TestDispatchCursorAndTruncateOnTTreeFragment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	idx, err := CreateIndex(env, "secondary", testSpec, IndexFlags{InMemoryOnly: true}, 0)
	require.NoError(t, err)
	frag, err := idx.OpenFragment(ctx, env, contract.FragmentID(1), contract.FileID(0))
	require.NoError(t, err)

	heap := env.Heap.(*memstore.Heap)
	for _, v := range []int64{3, 1, 2} {
		pk := encodeInt(v)
		loc := heap.PutRow(contract.FragmentID(1), pk, [][]byte{pk}, 1, contract.TxnID(1), true)
		require.NoError(t, frag.TTree.Insert(ctx, loc, 1))
		frag.Counters.RecordInsert(0)
	}

	openRes := Dispatch(ctx, env, Operation{
		Kind: OpCursorOpen, Index: idx, FragmentID: contract.FragmentID(1),
		CursorOptions: cursor.Options{Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: contract.FragmentID(1), Txn: contract.TxnID(1)},
	})
	require.NoError(t, openRes.Err)
	require.NotNil(t, openRes.Cursor)

	var seen int
	for {
		getRes := Dispatch(ctx, env, Operation{Kind: OpCursorGet, Index: idx, FragmentID: contract.FragmentID(1), Cursor: openRes.Cursor})
		require.NoError(t, getRes.Err)
		if !getRes.Found {
			break
		}
		seen++
	}
	require.Equal(t, 3, seen)

	closeRes := Dispatch(ctx, env, Operation{Kind: OpCursorClose, Index: idx, FragmentID: contract.FragmentID(1), Cursor: openRes.Cursor})
	require.NoError(t, closeRes.Err)

	truncRes := Dispatch(ctx, env, Operation{Kind: OpTruncate, Index: idx, FragmentID: contract.FragmentID(1)})
	require.NoError(t, truncRes.Err)
	require.Equal(t, 3, truncRes.Deleted)

	statRes := Dispatch(ctx, env, Operation{Kind: OpStat, Index: idx, FragmentID: contract.FragmentID(1)})
	require.NoError(t, statRes.Err)
	require.Equal(t, int64(0), statRes.EntryCount)
}

// TestPutGetDeleteRoundTrip is testable property 2 (spec.md §8): a
// successful put/get round-trips the value, and get after del reports
// not_found.
func TestPutGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idx, err := CreateIndex(env, "primary", testSpec, IndexFlags{}, 512)
	require.NoError(t, err)
	_, err = idx.OpenFragment(ctx, env, contract.FragmentID(1), contract.FileID(1))
	require.NoError(t, err)

	key := []compare.AttrValue{{Bytes: encodeInt(9)}}
	require.NoError(t, env.Put(ctx, idx, contract.FragmentID(1), contract.LockerID(1), contract.TxnID(1), contract.NullTupLoc, 0, key, []byte("v9")))

	val, found, err := env.Get(ctx, idx, contract.FragmentID(1), contract.LockerID(1), key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v9"), val)

	require.NoError(t, env.Delete(ctx, idx, contract.FragmentID(1), contract.LockerID(1), contract.TxnID(1), contract.NullTupLoc, 0, key, []byte("v9")))

	_, found, err = env.Get(ctx, idx, contract.FragmentID(1), contract.LockerID(1), key)
	require.NoError(t, err)
	require.False(t, found)
}

// TestScanSeesRowsCommittedBeforeOpenOnce is testable property 5 (spec.md
// §8): an ascending scan over a T-tree fragment returns every key committed
// before the cursor opened, no key twice, and no key outside the set
// committed before the scan ends.
func TestScanSeesRowsCommittedBeforeOpenOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	idx, err := CreateIndex(env, "secondary", testSpec, IndexFlags{InMemoryOnly: true}, 0)
	require.NoError(t, err)
	frag, err := idx.OpenFragment(ctx, env, contract.FragmentID(1), contract.FileID(0))
	require.NoError(t, err)

	heap := env.Heap.(*memstore.Heap)
	for _, v := range []int64{1, 2, 3} {
		pk := encodeInt(v)
		loc := heap.PutRow(contract.FragmentID(1), pk, [][]byte{pk}, 1, contract.TxnID(1), true)
		require.NoError(t, frag.TTree.Insert(ctx, loc, 1))
	}

	openRes := Dispatch(ctx, env, Operation{
		Kind: OpCursorOpen, Index: idx, FragmentID: contract.FragmentID(1),
		CursorOptions: cursor.Options{Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: contract.FragmentID(1), Txn: contract.TxnID(1)},
	})
	require.NoError(t, openRes.Err)

	// a row committed while the scan is still running may or may not be
	// seen, but must never be seen twice, and every key seen must belong
	// to the set committed before the scan ends.
	pk4 := encodeInt(4)
	loc4 := heap.PutRow(contract.FragmentID(1), pk4, [][]byte{pk4}, 1, contract.TxnID(2), true)
	require.NoError(t, frag.TTree.Insert(ctx, loc4, 1))

	seen := map[int64]bool{}
	for {
		getRes := Dispatch(ctx, env, Operation{Kind: OpCursorGet, Index: idx, FragmentID: contract.FragmentID(1), Cursor: openRes.Cursor})
		require.NoError(t, getRes.Err)
		if !getRes.Found {
			break
		}
		pk, err := heap.ReadPK(ctx, contract.FragmentID(1), getRes.Row.Loc)
		require.NoError(t, err)
		v := int64(binary.BigEndian.Uint64(pk) ^ (1 << 63))
		require.False(t, seen[v], "key %d returned twice", v)
		seen[v] = true
	}

	require.ElementsMatch(t, []int64{1, 2, 3}, intersect(keysOf(seen), []int64{1, 2, 3}))
	for v := range seen {
		require.Contains(t, []int64{1, 2, 3, 4}, v)
	}

	require.NoError(t, Dispatch(ctx, env, Operation{Kind: OpCursorClose, Index: idx, FragmentID: contract.FragmentID(1), Cursor: openRes.Cursor}).Err)
}

func keysOf(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func intersect(a, b []int64) []int64 {
	set := map[int64]bool{}
	for _, v := range b {
		set[v] = true
	}
	var out []int64
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func TestDispatchUnknownKindIsInvalidFlags(t *testing.T) {
	env := newTestEnv(t)
	res := Dispatch(context.Background(), env, Operation{Kind: OpKind(999)})
	require.Error(t, res.Err)
	kind, ok := errkind.Of(res.Err)
	require.True(t, ok)
	require.Equal(t, errkind.InvalidFlags, kind)
}
