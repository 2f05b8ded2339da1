package ttree

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
)

func encodeInt(v int64) []byte {
	// sign-flipped so unsigned memcmp orders negatives below positives,
	// matching compare.go's "straight memcmp of canonical form" contract.
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

func newIntTree(t *testing.T) (*Tree, *memstore.Heap, contract.FragmentID) {
	t.Helper()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	cfg := Config{
		Spec:      compare.KeySpec{{Type: compare.AttrFixed, Size: 8}},
		AttrIDs:   []int{0},
		MaxOccup:  4,
		MinOccup:  2,
		PrefAttrs: 1,
	}
	return New(heap, frag, cfg), heap, frag
}

// Property 4 (balance): after any completed structural modification, the
// tree satisfies |balance| <= 1 at every node, every interior node has >=
// min_occup, and every non-root node's side/parent link agrees with its
// parent's child pointer.
func TestBalanceInvariant(t *testing.T) {
	ctx := context.Background()
	tree, heap, frag := newIntTree(t)
	rng := rand.New(rand.NewSource(7))

	var live []contract.TupLoc
	for i := 0; i < 300; i++ {
		if len(live) > 5 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			loc := live[idx]
			pk, err := heap.ReadPK(ctx, frag, loc)
			require.NoError(t, err)
			v := int64(binary.BigEndian.Uint64(pk) ^ (1 << 63))
			require.NoError(t, tree.Delete(ctx, loc, 1))
			_ = v
			live = append(live[:idx], live[idx+1:]...)
			continue
		}
		v := rng.Int63n(100000)
		key := encodeInt(v)
		loc := heap.PutRow(frag, key, [][]byte{key}, 1, 0, true)
		if err := tree.Insert(ctx, loc, 1); err != nil {
			continue // insert failed; the heap row stays unused
		}
		live = append(live, loc)
	}

	checkInvariant(t, ctx, tree)
}

func checkInvariant(t *testing.T, ctx context.Context, tree *Tree) {
	t.Helper()
	if tree.Root().IsNull() {
		return
	}
	walkCheck(t, ctx, tree, tree.Root(), contract.NullTupLoc, sideRoot)
}

func walkCheck(t *testing.T, ctx context.Context, tree *Tree, loc, expectParent contract.TupLoc, expectSide side) int {
	t.Helper()
	n, err := tree.selectNode(ctx, loc)
	require.NoError(t, err)

	require.Equal(t, expectParent, n.parent)
	require.Equal(t, expectSide, n.side)
	require.True(t, n.bal == balLeft || n.bal == balEven || n.bal == balRight)
	if expectSide != sideRoot {
		require.GreaterOrEqual(t, n.occup(), 1)
	}
	if !n.left.IsNull() || !n.right.IsNull() {
		require.GreaterOrEqual(t, n.occup(), tree.cfg.MinOccup, "interior node below min_occup")
	}

	lh, rh := 0, 0
	if !n.left.IsNull() {
		lh = 1 + walkCheck(t, ctx, tree, n.left, loc, sideLeft)
	}
	if !n.right.IsNull() {
		rh = 1 + walkCheck(t, ctx, tree, n.right, loc, sideRight)
	}
	diff := rh - lh
	require.LessOrEqual(t, diff, 1)
	require.GreaterOrEqual(t, diff, -1)

	h := lh
	if rh > h {
		h = rh
	}
	return h
}

// Property 1 (order): an ascending walk from First via Next never regresses.
func TestAscendingOrder(t *testing.T) {
	ctx := context.Background()
	tree, heap, frag := newIntTree(t)

	values := []int64{42, 7, 100, -5, 23, 8, 9, 1, 0, 17}
	for _, v := range values {
		key := encodeInt(v)
		loc := heap.PutRow(frag, key, [][]byte{key}, 1, 0, true)
		require.NoError(t, tree.Insert(ctx, loc, 1))
	}

	pos, err := tree.First(ctx)
	require.NoError(t, err)

	var seen []int64
	for {
		loc, _, err := tree.Entry(ctx, pos)
		require.NoError(t, err)
		pk, err := heap.ReadPK(ctx, frag, loc)
		require.NoError(t, err)
		seen = append(seen, int64(binary.BigEndian.Uint64(pk)^(1<<63)))

		next, ok, err := tree.Next(ctx, pos)
		require.NoError(t, err)
		if !ok {
			break
		}
		pos = next
	}

	require.Len(t, seen, len(values))
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i])
	}
}

// TestScanSurvivesRotation is end-to-end scenario S6 (spec.md §8): a scan
// parked mid-tree survives a structural modification (node split/rebalance)
// triggered by a concurrent insert, and a rescan afterward still emits
// entries in strict ascending order with no gaps or duplicates.
func TestScanSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	tree, heap, frag := newIntTree(t)

	for _, v := range []int64{1, 2, 3, 5, 6, 7} {
		key := encodeInt(v)
		loc := heap.PutRow(frag, key, [][]byte{key}, 1, 0, true)
		require.NoError(t, tree.Insert(ctx, loc, 1))
	}

	bound := compare.Bound{Values: []compare.AttrValue{{Bytes: encodeInt(3)}}, Side: compare.SideGE}
	pos, ok, err := tree.Seek(ctx, bound)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tree.ParkScan(ctx, pos, 1))

	key4 := encodeInt(4)
	loc4 := heap.PutRow(frag, key4, [][]byte{key4}, 1, 0, true)
	require.NoError(t, tree.Insert(ctx, loc4, 1))

	require.NoError(t, tree.UnparkScan(ctx, pos, 1))
	checkInvariant(t, ctx, tree)

	pos, ok, err = tree.Seek(ctx, bound)
	require.NoError(t, err)
	require.True(t, ok)

	var seen []int64
	cur := pos
	for {
		loc, _, err := tree.Entry(ctx, cur)
		require.NoError(t, err)
		pk, err := heap.ReadPK(ctx, frag, loc)
		require.NoError(t, err)
		seen = append(seen, int64(binary.BigEndian.Uint64(pk)^(1<<63)))

		next, ok, err := tree.Next(ctx, cur)
		require.NoError(t, err)
		if !ok {
			break
		}
		cur = next
	}

	require.Equal(t, []int64{3, 4, 5, 6, 7}, seen)
}

func TestDuplicateKeyExists(t *testing.T) {
	ctx := context.Background()
	tree, heap, frag := newIntTree(t)

	key := encodeInt(5)
	loc := heap.PutRow(frag, key, [][]byte{key}, 1, 0, true)
	require.NoError(t, tree.Insert(ctx, loc, 1))
	require.Error(t, tree.Insert(ctx, loc, 1))
}
