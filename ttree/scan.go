package ttree

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Position names one entry in the tree by its hosting node and in-node
// index; cursor/ holds these as its current scan position.
type Position struct {
	Node contract.TupLoc
	Pos  int
}

func (p Position) IsZero() bool { return p.Node.IsNull() }

// Entry reports the row a Position names.
func (t *Tree) Entry(ctx context.Context, pos Position) (contract.TupLoc, contract.TupleVersion, error) {
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return contract.NullTupLoc, 0, err
	}
	if pos.Pos < 0 || pos.Pos >= len(n.entries) {
		return contract.NullTupLoc, 0, errkind.New("ttree.Entry", errkind.NotFound)
	}
	e := n.entries[pos.Pos]
	return e.loc, e.version, nil
}

func (t *Tree) leftmost(ctx context.Context, loc contract.TupLoc) (*node, error) {
	cur, err := t.selectNode(ctx, loc)
	if err != nil {
		return nil, err
	}
	for !cur.left.IsNull() {
		cur, err = t.selectNode(ctx, cur.left)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// First returns the position of the smallest entry in the tree.
func (t *Tree) First(ctx context.Context) (Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root.IsNull() {
		return Position{}, errkind.New("ttree.First", errkind.NotFound)
	}
	n, err := t.leftmost(ctx, t.root)
	if err != nil {
		return Position{}, err
	}
	return Position{Node: n.self, Pos: 0}, nil
}

// Last returns the position of the largest entry in the tree.
func (t *Tree) Last(ctx context.Context) (Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root.IsNull() {
		return Position{}, errkind.New("ttree.Last", errkind.NotFound)
	}
	n, err := t.rightmost(ctx, t.root)
	if err != nil {
		return Position{}, err
	}
	return Position{Node: n.self, Pos: len(n.entries) - 1}, nil
}

// Seek locates the tree position at or after bound's key values. It
// resolves ties by value order only, not by bound.Side (findPosToAdd's
// binary search always orders by exact key+TupLoc); cursor/ is responsible
// for the final SideGT/SideLT "skip the exact match" adjustment once it
// has the resolved position, per spec.md §4.9's bound evaluation step.
func (t *Tree) Seek(ctx context.Context, bound compare.Bound) (Position, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root.IsNull() {
		return Position{}, false, nil
	}
	res, err := t.findNodeToUpdate(ctx, bound)
	if err != nil {
		return Position{}, false, err
	}
	if res.target == nil {
		return Position{}, false, nil
	}
	pos, exact, err := t.findPosToAdd(ctx, res.target, bound, contract.NullTupLoc)
	if err != nil {
		return Position{}, false, err
	}
	if exact {
		return Position{Node: res.target.self, Pos: pos}, true, nil
	}
	if pos < len(res.target.entries) {
		return Position{Node: res.target.self, Pos: pos}, true, nil
	}
	next, ok, err := t.Next(ctx, Position{Node: res.target.self, Pos: pos - 1})
	return next, ok, err
}

// Next returns the in-order successor of pos (spec.md §4.5 "scan-next
// algorithm"): the next entry within the same node if any, else the
// leftmost entry of the right subtree, else the nearest ancestor for which
// the current node is a left descendant.
func (t *Tree) Next(ctx context.Context, pos Position) (Position, bool, error) {
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return Position{}, false, err
	}
	if pos.Pos+1 < len(n.entries) {
		return Position{Node: n.self, Pos: pos.Pos + 1}, true, nil
	}
	if !n.right.IsNull() {
		succ, err := t.leftmost(ctx, n.right)
		if err != nil {
			return Position{}, false, err
		}
		return Position{Node: succ.self, Pos: 0}, true, nil
	}
	cur := n
	for cur.side == sideRight {
		if cur.parent.IsNull() {
			return Position{}, false, nil
		}
		cur, err = t.selectNode(ctx, cur.parent)
		if err != nil {
			return Position{}, false, err
		}
	}
	if cur.side == sideRoot {
		return Position{}, false, nil
	}
	parent, err := t.selectNode(ctx, cur.parent)
	if err != nil {
		return Position{}, false, err
	}
	return Position{Node: parent.self, Pos: 0}, true, nil
}

// Prev returns the in-order predecessor of pos, symmetric to Next.
func (t *Tree) Prev(ctx context.Context, pos Position) (Position, bool, error) {
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return Position{}, false, err
	}
	if pos.Pos > 0 {
		return Position{Node: n.self, Pos: pos.Pos - 1}, true, nil
	}
	if !n.left.IsNull() {
		pred, err := t.rightmost(ctx, n.left)
		if err != nil {
			return Position{}, false, err
		}
		return Position{Node: pred.self, Pos: len(pred.entries) - 1}, true, nil
	}
	cur := n
	for cur.side == sideLeft {
		if cur.parent.IsNull() {
			return Position{}, false, nil
		}
		cur, err = t.selectNode(ctx, cur.parent)
		if err != nil {
			return Position{}, false, err
		}
	}
	if cur.side == sideRoot {
		return Position{}, false, nil
	}
	parent, err := t.selectNode(ctx, cur.parent)
	if err != nil {
		return Position{}, false, err
	}
	return Position{Node: parent.self, Pos: len(parent.entries) - 1}, true, nil
}

// ParkScan records scanID as sitting on pos, so a future structural change
// (pop-down/push-up or physical removal) knows to carry or relink it
// (spec.md §4.5 "Scan relink on structural change").
func (t *Tree) ParkScan(ctx context.Context, pos Position, scanID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return err
	}
	if pos.Pos < 0 || pos.Pos >= len(n.entries) {
		return errkind.New("ttree.ParkScan", errkind.NotFound)
	}
	n.entries[pos.Pos].scans = append(n.entries[pos.Pos].scans, scanID)
	return t.storeNode(ctx, n)
}

// UnparkScan removes scanID from pos's parked list.
func (t *Tree) UnparkScan(ctx context.Context, pos Position, scanID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.selectNode(ctx, pos.Node)
	if err != nil {
		return err
	}
	if pos.Pos < 0 || pos.Pos >= len(n.entries) {
		return nil
	}
	scans := n.entries[pos.Pos].scans
	for i, id := range scans {
		if id == scanID {
			n.entries[pos.Pos].scans = append(scans[:i], scans[i+1:]...)
			break
		}
	}
	return t.storeNode(ctx, n)
}
