package ttree

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
)

// prefDecisive compares a bound against a node's cached prefix, returning
// (cmp, true) if the prefix alone settles the comparison, or (0, false) if
// the walk must fall back to the full entry-0 key (spec.md §4.5
// find_node_to_update: "if the prefix is indecisive, against the full
// entry-0 key").
func prefDecisive(spec compare.KeySpec, n *node, attrIDs []int, bound compare.Bound) (int, bool) {
	prefVals, ok := decodePrefix(n.pref, len(attrIDs))
	if !ok {
		return 0, false
	}
	k := len(prefVals)
	if k > len(bound.Values) {
		k = len(bound.Values)
	}
	for i := 0; i < k; i++ {
		if c := compareOne(spec[i], prefVals[i], bound.Values[i]); c != 0 {
			return c, true
		}
	}
	// the prefix only covers the leading attributes; a tie there is
	// decisive only if the prefix covers the whole bound.
	if k == len(bound.Values) && k == len(prefVals) {
		return 0, true
	}
	return 0, false
}

func compareOne(attr compare.Attribute, v, b compare.AttrValue) int {
	return compare.CompareBound(compare.KeySpec{attr}, []compare.AttrValue{v}, compare.Bound{Values: []compare.AttrValue{b}, Side: compare.SideExact})
}

func decodePrefix(pref []byte, maxAttrs int) ([]compare.AttrValue, bool) {
	if pref == nil {
		return nil, false
	}
	var out []compare.AttrValue
	o := 0
	for o < len(pref) && len(out) < maxAttrs {
		if o+4 > len(pref) {
			return nil, false
		}
		l := int(int32(pref[o]) | int32(pref[o+1])<<8 | int32(pref[o+2])<<16 | int32(pref[o+3])<<24)
		o += 4
		if l == -1 {
			out = append(out, compare.AttrValue{Null: true})
			continue
		}
		if o+l > len(pref) {
			return nil, false
		}
		out = append(out, compare.AttrValue{Bytes: pref[o : o+l]})
		o += l
	}
	return out, true
}

// findResult is what find_node_to_update reports: the node whose
// comparison against bound must be resolved, plus the best
// greatest-lower-bound candidate seen along the way.
type findResult struct {
	target *node
	glb    *node
}

// findNodeToUpdate walks from the root comparing bound against each visited
// node, tracking the best "potential greatest-lower-bound" seen whenever
// the walk descends right, per spec.md §4.5.
func (t *Tree) findNodeToUpdate(ctx context.Context, bound compare.Bound) (findResult, error) {
	var res findResult
	cur := t.root
	for !cur.IsNull() {
		n, err := t.selectNode(ctx, cur)
		if err != nil {
			return findResult{}, err
		}
		cmp, decisive := prefDecisive(t.cfg.Spec, n, t.cfg.AttrIDs, bound)
		if !decisive {
			vals, err := t.keyOf(ctx, n.entries[0])
			if err != nil {
				return findResult{}, err
			}
			cmp = compare.CompareBound(t.cfg.Spec, vals, bound)
		}
		switch {
		case cmp == 0:
			res.target = n
			return res, nil
		case cmp > 0:
			// bound < node's min: descend left. A dead end here with no
			// left child means the walk never finds an exact node; the
			// GLB accumulated so far (if any) stands as the target.
			if n.left.IsNull() {
				res.target = n
				return res, nil
			}
			cur = n.left
		default:
			// bound > node's min: this node is a GLB candidate, descend right.
			res.glb = n
			if n.right.IsNull() {
				res.target = n
				return res, nil
			}
			cur = n.right
		}
	}
	return res, nil
}

// findPosToAdd does a binary search within n for the insertion position of
// (bound, tie-break loc); duplicate keys are ordered by TupLoc so insertion
// is deterministic (spec.md §4.5).
func (t *Tree) findPosToAdd(ctx context.Context, n *node, bound compare.Bound, loc contract.TupLoc) (pos int, exact bool, err error) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		vals, kerr := t.keyOf(ctx, n.entries[mid])
		if kerr != nil {
			return 0, false, kerr
		}
		c := compare.GetBoth(t.cfg.Spec, vals, bound, n.entries[mid].loc, loc)
		if c == 0 {
			return mid, true, nil
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false, nil
}

// searchToRemove locates the entry at exactly (bound, loc) within n's
// subtree (spec.md §4.5 search_to_remove): linear within the node since
// bound + TupLoc identifies it uniquely once the target node is found.
func (t *Tree) searchToRemove(ctx context.Context, bound compare.Bound, loc contract.TupLoc) (*node, int, error) {
	res, err := t.findNodeToUpdate(ctx, bound)
	if err != nil {
		return nil, 0, err
	}
	if res.target == nil {
		return nil, 0, nil
	}
	pos, exact, err := t.findPosToAdd(ctx, res.target, bound, loc)
	if err != nil {
		return nil, 0, err
	}
	if !exact {
		return nil, 0, nil
	}
	return res.target, pos, nil
}
