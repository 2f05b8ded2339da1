package cursor

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
	"github.com/sharvit-labs/ordidx/ttree"
)

const testLocker contract.LockerID = 1
const testTxn contract.TxnID = 1

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

func decodeInt(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63))
}

var testSpec = compare.KeySpec{{Type: compare.AttrFixed, Size: 8}}

func newFixtureTree(heap *memstore.Heap, frag contract.FragmentID) *ttree.Tree {
	return ttree.New(heap, frag, ttree.Config{
		Spec: testSpec, AttrIDs: []int{0}, MaxOccup: 4, MinOccup: 2, PrefAttrs: 1,
	})
}

// seed inserts one committed row per value and returns the tree.
func seed(t *testing.T, heap *memstore.Heap, frag contract.FragmentID, tree *ttree.Tree, values []int64) {
	t.Helper()
	ctx := context.Background()
	for _, v := range values {
		pk := encodeInt(v)
		loc := heap.PutRow(frag, pk, [][]byte{pk}, 1, testTxn, true)
		require.NoError(t, tree.Insert(ctx, loc, 1))
	}
}

// collect drains c, resolving each returned row back to its int64 key via
// heap, and returns the keys in emission order.
func collect(t *testing.T, ctx context.Context, c *Cursor, heap *memstore.Heap, frag contract.FragmentID) []int64 {
	t.Helper()
	var out []int64
	for {
		row, ok, err := c.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		pk, err := heap.ReadPK(ctx, frag, row.Loc)
		require.NoError(t, err)
		out = append(out, decodeInt(pk))
	}
	return out
}

func TestCursorAscendingFullScan(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{5, 1, 3, 4, 2})

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2, 3, 4, 5}, collect(t, ctx, c, heap, frag))
	require.NoError(t, c.Close(ctx))
}

func TestCursorDescendingFullScan(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{5, 1, 3, 4, 2})

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: false, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)

	require.Equal(t, []int64{5, 4, 3, 2, 1}, collect(t, ctx, c, heap, frag))
	require.NoError(t, c.Close(ctx))
}

func TestCursorBoundedRange(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{1, 2, 3, 4, 5, 6, 7, 8})

	lower := compare.Bound{Values: []compare.AttrValue{{Bytes: encodeInt(3)}}, Side: compare.SideGE}
	upper := compare.Bound{Values: []compare.AttrValue{{Bytes: encodeInt(6)}}, Side: compare.SideLE}
	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
		Lower: lower, Upper: upper, HasLower: true, HasUpper: true,
	})
	require.NoError(t, err)

	require.Equal(t, []int64{3, 4, 5, 6}, collect(t, ctx, c, heap, frag))
	require.NoError(t, c.Close(ctx))
}

func TestCursorSkipsUncommittedRow(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{1, 2, 3})

	// a row from a different, not-yet-committed transaction: invisible to
	// a read-committed cursor running as testTxn.
	otherLoc := heap.PutRow(frag, encodeInt(4), [][]byte{encodeInt(4)}, 1, contract.TxnID(99), false)
	require.NoError(t, tree.Insert(ctx, otherLoc, 1))

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2, 3}, collect(t, ctx, c, heap, frag))
	require.NoError(t, c.Close(ctx))
}

func TestCursorEmptyTree(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)
	_, ok, err := c.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestCloseIsIdempotent is testable property 3 (spec.md §8): closing an
// already-closed cursor is a no-op and yields ok.
func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{1, 2, 3})

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
}

// TestPendingDeleteRowInvisibleToLaterCursor is testable property 6
// (spec.md §8): a row flagged pending-delete is never visible to a cursor
// opened after the flag was set.
func TestPendingDeleteRowInvisibleToLaterCursor(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{1, 2, 3})

	loc := heap.PutRow(frag, encodeInt(2), [][]byte{encodeInt(2)}, 1, testTxn, true)
	require.NoError(t, tree.Insert(ctx, loc, 1))
	heap.MarkDeleted(frag, loc)

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, ReadCommitted: true, Frag: frag, Txn: testTxn,
	})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 2, 3}, collect(t, ctx, c, heap, frag))
	require.NoError(t, c.Close(ctx))
}

func TestCursorWithRowLocking(t *testing.T) {
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	tree := newFixtureTree(heap, frag)
	seed(t, heap, frag, tree, []int64{1, 2, 3})

	c, err := Open(ctx, tree, heap, memstore.NewLockManager(), Options{
		Spec: testSpec, Ascending: true, Frag: frag, Txn: testTxn,
		File: contract.FileID(1), Locker: testLocker, LockMode: contract.LockRead,
	})
	require.NoError(t, err)

	var got []int64
	for {
		row, ok, err := c.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.True(t, row.Locked)
		pk, err := heap.ReadPK(ctx, frag, row.Loc)
		require.NoError(t, err)
		got = append(got, decodeInt(pk))
	}
	require.Equal(t, []int64{1, 2, 3}, got)
	require.NoError(t, c.Close(ctx))
}
