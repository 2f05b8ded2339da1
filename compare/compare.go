// Package compare implements the typed N-attribute key comparator
// (spec.md §4.3): nullability-first comparison, a collation weight
// transform for string attributes, straight memcmp for numeric/fixed
// attributes, and bound/get-both tie-breaks.
package compare

import (
	"bytes"

	"github.com/sharvit-labs/ordidx/contract"
)

// AttrType is the wire type of one key attribute.
type AttrType uint8

const (
	AttrFixed  AttrType = iota // memcmp-comparable canonical bytes (ints, etc.)
	AttrString                 // subject to collation weighting
)

// Collation transforms a string attribute's raw bytes into its comparison
// weight (spec.md §4.3 step 2: "equivalent to strnxfrm"). The identity
// collation (byte-order) is the zero value.
type Collation interface {
	// ID distinguishes collations for KeySpec compatibility checks.
	ID() uint16
	// Weight writes dst the comparison-weight expansion of src, padded to a
	// 4-byte boundary, and returns the written slice.
	Weight(dst, src []byte) []byte
}

// identityCollation is a byte-order collation: Weight is the identity
// transform padded to 4 bytes, matching the "straight memcmp" path for
// attributes with no real collation configured.
type identityCollation struct{}

func (identityCollation) ID() uint16 { return 0 }

func (identityCollation) Weight(dst, src []byte) []byte {
	dst = append(dst, src...)
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}

// Identity is the default collation used when an attribute's KeySpec names
// no explicit collation_id.
var Identity Collation = identityCollation{}

// Attribute describes one typed attribute of an index's key_spec.
type Attribute struct {
	Type      AttrType
	Size      int // 0 means variable-length
	Nullable  bool
	Collation Collation // only consulted when Type == AttrString
}

// KeySpec is the ordered list of typed attributes an index is built over
// (spec.md §3 "Index").
type KeySpec []Attribute

// AttrValue is one decoded attribute value: nil Bytes with Null=true
// represents SQL-style NULL.
type AttrValue struct {
	Null  bool
	Bytes []byte
}

// Side selects strict vs. non-strict tie-breaking for a Bound comparison
// (spec.md §4.3 "Bound comparison").
type Side int

const (
	SideExact Side = iota
	SideLE
	SideLT
	SideGE
	SideGT
)

// Bound is a packed attribute-header + value stream describing the lower
// or upper end of a range scan (spec.md §3 "ScanBound").
type Bound struct {
	Values []AttrValue
	Side   Side
}

// Key compares two stored keys attribute-by-attribute under spec:
//   1. nullability first (null < non-null), for each attribute up to the
//      shorter of the two lengths — unless store_null_keys disables
//      indexing of all-null rows, in which case such rows never reach the
//      comparator.
//   2. string attributes run through the collation weight function before
//      byte comparison.
//   3. numeric/fixed attributes compare via a straight memcmp of their
//      canonical form.
func Key(spec KeySpec, a, b []AttrValue) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareAttr(spec[i], a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareAttr(attr Attribute, a, b AttrValue) int {
	if a.Null != b.Null {
		if a.Null {
			return -1
		}
		return 1
	}
	if a.Null {
		return 0
	}
	if attr.Type == AttrString {
		coll := attr.Collation
		if coll == nil {
			coll = Identity
		}
		wa := coll.Weight(nil, a.Bytes)
		wb := coll.Weight(nil, b.Bytes)
		return bytes.Compare(wa, wb)
	}
	return bytes.Compare(a.Bytes, b.Bytes)
}

// CompareBound compares a stored key against a Bound, applying the side
// flag so "less-or-equal" vs. "strict-less" at the final compared
// attribute yields the +-1 tie-break without a second pass (spec.md §4.3).
func CompareBound(spec KeySpec, key []AttrValue, bound Bound) int {
	n := len(key)
	if len(bound.Values) < n {
		n = len(bound.Values)
	}
	for i := 0; i < n; i++ {
		if c := compareAttr(spec[i], key[i], bound.Values[i]); c != 0 {
			return c
		}
	}
	lenDiff := len(key) - len(bound.Values)
	if lenDiff != 0 {
		return lenDiff
	}
	switch bound.Side {
	case SideLT, SideGE:
		// key ties the bound exactly: a strict-less upper bound excludes
		// it (tie -> key considered "greater"); a >= lower bound includes
		// it (tie -> key considered "equal", handled by the 0 below).
		if bound.Side == SideLT {
			return 1
		}
		return 0
	case SideLE, SideGT:
		if bound.Side == SideGT {
			return -1
		}
		return 0
	default:
		return 0
	}
}

// GetBoth wraps a bound comparison (Side = SideExact) with a secondary
// comparison against the stored TupLoc, ordering among duplicate entries
// so "get-both" (search key exact within duplicates) is deterministic
// (spec.md §4.3 "Get-both").
func GetBoth(spec KeySpec, key []AttrValue, bound Bound, keyLoc, boundLoc contract.TupLoc) int {
	if c := CompareBound(spec, key, Bound{Values: bound.Values, Side: SideExact}); c != 0 {
		return c
	}
	switch {
	case keyLoc.Less(boundLoc):
		return -1
	case boundLoc.Less(keyLoc):
		return 1
	default:
		return 0
	}
}
