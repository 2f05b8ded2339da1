package stats

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/memstore"
	"github.com/sharvit-labs/ordidx/ttree"
)

func encodeInt(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

func TestCountersTrackInsertDelete(t *testing.T) {
	c := NewCounters(contract.FragmentID(1))
	c.RecordInsert(16)
	c.RecordInsert(16)
	c.RecordInsert(16)
	require.Equal(t, int64(3), c.EntryCount())
	require.Equal(t, int64(48), c.EntryBytes())
	require.Equal(t, int64(3), c.EntryOps())

	c.RecordDelete(16)
	require.Equal(t, int64(2), c.EntryCount())
	require.Equal(t, int64(32), c.EntryBytes())
	require.Equal(t, int64(4), c.EntryOps())
}

func TestCountersNeedsRefresh(t *testing.T) {
	c := NewCounters(contract.FragmentID(1))
	for i := 0; i < 10; i++ {
		c.RecordInsert(1)
	}
	// 10 ops since the implicit refresh baseline of 0, against 10 entries:
	// triggerPct=1, triggerScale=1 means "ops > count" must hold to fire.
	// Inserts alone keep ops == count; the delete makes 11 ops against 9.
	require.False(t, c.NeedsRefresh(1, 1))
	c.RecordDelete(1)
	require.True(t, c.NeedsRefresh(1, 1))

	c.MarkRefreshed()
	require.False(t, c.NeedsRefresh(1, 1))
}

func buildFixtureTree(t *testing.T, n int) (*ttree.Tree, []ttree.Position) {
	t.Helper()
	ctx := context.Background()
	heap := memstore.NewHeap()
	frag := contract.FragmentID(1)
	spec := compare.KeySpec{{Type: compare.AttrFixed, Size: 8}}
	tree := ttree.New(heap, frag, ttree.Config{
		Spec: spec, AttrIDs: []int{0}, MaxOccup: 4, MinOccup: 2, PrefAttrs: 1,
	})

	var positions []ttree.Position
	for i := 0; i < n; i++ {
		pk := encodeInt(int64(i))
		loc := heap.PutRow(frag, pk, [][]byte{pk}, 1, contract.TxnID(1), true)
		require.NoError(t, tree.Insert(ctx, loc, 1))
	}

	pos, err := tree.First(ctx)
	require.NoError(t, err)
	for {
		positions = append(positions, pos)
		next, ok, err := tree.Next(ctx, pos)
		require.NoError(t, err)
		if !ok {
			break
		}
		pos = next
	}
	return tree, positions
}

func TestRecordsInRangeAcrossWholeTree(t *testing.T) {
	ctx := context.Background()
	tree, positions := buildFixtureTree(t, 40)

	c := NewCounters(contract.FragmentID(1))
	for range positions {
		c.RecordInsert(8)
	}

	first := positions[0]
	last := positions[len(positions)-1]
	est, err := RecordsInRange(ctx, tree, c, first, last, first.Pos, last.Pos)
	require.NoError(t, err)

	require.Equal(t, int64(len(positions)), est.Total)
	require.True(t, est.InRange > 0)
	require.True(t, est.InRange <= est.Total)
	require.True(t, est.BeforeRange >= 0)
	require.True(t, est.AfterRange >= 0)
}

func TestMonitorTriggersRefresh(t *testing.T) {
	c := NewCounters(contract.FragmentID(1))
	for i := 0; i < 5; i++ {
		c.RecordInsert(1)
	}
	m := NewMonitor(1, 100, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	refreshed := make(chan contract.FragmentID, 1)
	go m.Run(ctx, map[contract.FragmentID]*Counters{1: c}, func(frag contract.FragmentID) {
		select {
		case refreshed <- frag:
		default:
		}
	})

	select {
	case frag := <-refreshed:
		require.Equal(t, contract.FragmentID(1), frag)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("monitor never triggered a refresh")
	}
	m.Stop()
}
