package compare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/contract"
)

func TestKeyNullOrdering(t *testing.T) {
	spec := KeySpec{{Type: AttrFixed, Nullable: true}}
	null := []AttrValue{{Null: true}}
	nonNull := []AttrValue{{Bytes: []byte{0}}}
	require.Negative(t, Key(spec, null, nonNull))
	require.Positive(t, Key(spec, nonNull, null))
	require.Zero(t, Key(spec, null, null))
}

func TestKeyNumericMemcmp(t *testing.T) {
	spec := KeySpec{{Type: AttrFixed}}
	a := []AttrValue{{Bytes: []byte{0, 0, 0, 1}}}
	b := []AttrValue{{Bytes: []byte{0, 0, 0, 2}}}
	require.Negative(t, Key(spec, a, b))
	require.Positive(t, Key(spec, b, a))
}

func TestCompareBoundSideTieBreak(t *testing.T) {
	spec := KeySpec{{Type: AttrFixed}}
	key := []AttrValue{{Bytes: []byte("m")}}
	lt := Bound{Values: key, Side: SideLT}
	le := Bound{Values: key, Side: SideLE}
	require.Equal(t, 1, CompareBound(spec, key, lt), "strict-less excludes an exact tie")
	require.Equal(t, 0, CompareBound(spec, key, le), "non-strict includes an exact tie")
}

func TestGetBothOrdersByTupLoc(t *testing.T) {
	spec := KeySpec{{Type: AttrFixed}}
	key := []AttrValue{{Bytes: []byte("k")}}
	bound := Bound{Values: key}
	loc1 := contract.TupLoc{PageID: 1, Offset: 0}
	loc2 := contract.TupLoc{PageID: 1, Offset: 10}
	require.Negative(t, GetBoth(spec, key, bound, loc1, loc2))
	require.Positive(t, GetBoth(spec, key, bound, loc2, loc1))
	require.Zero(t, GetBoth(spec, key, bound, loc1, loc1))
}

func TestStringCollationWeight(t *testing.T) {
	spec := KeySpec{{Type: AttrString, Collation: Identity}}
	a := []AttrValue{{Bytes: []byte("abc")}}
	b := []AttrValue{{Bytes: []byte("abd")}}
	require.Negative(t, Key(spec, a, b))
}
