package ttree

import (
	"context"

	"github.com/sharvit-labs/ordidx/contract"
)

func (n *node) childLoc(s side) contract.TupLoc {
	if s == sideLeft {
		return n.left
	}
	return n.right
}

func (n *node) setChild(s side, loc contract.TupLoc) {
	if s == sideLeft {
		n.left = loc
	} else {
		n.right = loc
	}
}

func opposite(s side) side {
	if s == sideLeft {
		return sideRight
	}
	return sideLeft
}

// attachToParent rewrites parent's child pointer (or the tree root) to
// point at newChild in place of oldSide, after a rotation promotes a new
// subtree root.
func (t *Tree) attachToParent(ctx context.Context, parent *node, oldSide side, newChild *node) error {
	newChild.side = oldSide
	if parent == nil {
		newChild.side = sideRoot
		t.root = newChild.self
		return t.storeNode(ctx, newChild)
	}
	newChild.parent = parent.self
	parent.setChild(oldSide, newChild.self)
	if err := t.storeNode(ctx, newChild); err != nil {
		return err
	}
	return t.storeNode(ctx, parent)
}

// rotateSingle performs the LL (heavySide=sideLeft) or RR (heavySide=
// sideRight) rotation at cur: the heavy child becomes the subtree root, and
// its opposite-side subtree (relative to heavySide) moves across to become
// cur's child on that side (spec.md §4.5 "Rotations").
func (t *Tree) rotateSingle(ctx context.Context, cur *node, heavySide side) (*node, error) {
	child, err := t.selectNode(ctx, cur.childLoc(heavySide))
	if err != nil {
		return nil, err
	}
	crossLoc := child.childLoc(opposite(heavySide))

	cur.setChild(heavySide, crossLoc)
	if !crossLoc.IsNull() {
		cross, err := t.selectNode(ctx, crossLoc)
		if err != nil {
			return nil, err
		}
		cross.parent = cur.self
		cross.side = opposite(heavySide)
		if err := t.storeNode(ctx, cross); err != nil {
			return nil, err
		}
	}

	child.setChild(opposite(heavySide), cur.self)
	cur.parent = child.self
	cur.side = opposite(heavySide)

	// Insert-triggered rotations always find child leaning the same
	// direction as heavySide, leaving both nodes balanced. A delete can
	// trigger this same rotation while child is already balanced; then cur
	// keeps its pre-rotation balance and child ends up leaning the
	// opposite way (original_source/storage/ndb/src/kernel/blocks/dbtux/
	// DbtuxTree.cpp's treeRotateSingle: "bal3 == 0" branch).
	if child.bal == balEven {
		child.bal = -cur.bal
	} else {
		cur.bal = balEven
		child.bal = balEven
	}

	if err := t.storeNode(ctx, cur); err != nil {
		return nil, err
	}
	if err := t.storeNode(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// rotateDouble performs the LR (heavySide=sideLeft) or RL (heavySide=
// sideRight) rotation: cur's heavy child's opposite-side grandchild becomes
// the new subtree root, and its two subtrees become cross-links to cur and
// the old heavy child (spec.md §4.5).
func (t *Tree) rotateDouble(ctx context.Context, cur *node, heavySide side) (*node, error) {
	child, err := t.selectNode(ctx, cur.childLoc(heavySide))
	if err != nil {
		return nil, err
	}
	grandLoc := child.childLoc(opposite(heavySide))
	grand, err := t.selectNode(ctx, grandLoc)
	if err != nil {
		return nil, err
	}

	leftCross := grand.childLoc(opposite(heavySide))
	rightCross := grand.childLoc(heavySide)

	// cur takes grand's near-side subtree on heavySide.
	cur.setChild(heavySide, leftCross)
	if !leftCross.IsNull() {
		n, err := t.selectNode(ctx, leftCross)
		if err != nil {
			return nil, err
		}
		n.parent = cur.self
		n.side = heavySide
		if err := t.storeNode(ctx, n); err != nil {
			return nil, err
		}
	}
	// child takes grand's far-side subtree on opposite(heavySide).
	child.setChild(opposite(heavySide), rightCross)
	if !rightCross.IsNull() {
		n, err := t.selectNode(ctx, rightCross)
		if err != nil {
			return nil, err
		}
		n.parent = child.self
		n.side = opposite(heavySide)
		if err := t.storeNode(ctx, n); err != nil {
			return nil, err
		}
	}

	grand.setChild(opposite(heavySide), cur.self)
	grand.setChild(heavySide, child.self)
	cur.parent = grand.self
	cur.side = opposite(heavySide)
	child.parent = grand.self
	child.side = heavySide

	switch {
	case grand.bal == balEven:
		cur.bal, child.bal = balEven, balEven
	case (heavySide == sideLeft && grand.bal == balRight) || (heavySide == sideRight && grand.bal == balLeft):
		// grand leaned toward its far-side subtree: cur absorbs the deficit.
		if heavySide == sideLeft {
			cur.bal, child.bal = balEven, balLeft
		} else {
			cur.bal, child.bal = balEven, balRight
		}
	default:
		if heavySide == sideLeft {
			cur.bal, child.bal = balRight, balEven
		} else {
			cur.bal, child.bal = balLeft, balEven
		}
	}
	grand.bal = balEven

	for _, n := range []*node{cur, child, grand} {
		if err := t.storeNode(ctx, n); err != nil {
			return nil, err
		}
	}
	return grand, nil
}

// rebalanceAfterAdd walks up from start (whose subtree height just grew on
// growSide) updating balance factors, performing at most one single or
// double rotation (spec.md §4.5 "rebalance_after_add").
func (t *Tree) rebalanceAfterAdd(ctx context.Context, start *node, growSide side) error {
	cur := start
	childSide := growSide
	for {
		switch {
		case cur.bal == balEven:
			if childSide == sideLeft {
				cur.bal = balLeft
			} else {
				cur.bal = balRight
			}
			if err := t.storeNode(ctx, cur); err != nil {
				return err
			}
			if cur.side == sideRoot {
				return nil
			}
			parent, err := t.selectNode(ctx, cur.parent)
			if err != nil {
				return err
			}
			childSide = cur.side
			cur = parent
			continue

		case (cur.bal == balLeft && childSide == sideRight) || (cur.bal == balRight && childSide == sideLeft):
			cur.bal = balEven
			return t.storeNode(ctx, cur)

		default:
			heavySide := sideLeft
			if cur.bal == balRight {
				heavySide = sideRight
			}
			child, err := t.selectNode(ctx, cur.childLoc(heavySide))
			if err != nil {
				return err
			}

			var parent *node
			if cur.side != sideRoot {
				parent, err = t.selectNode(ctx, cur.parent)
				if err != nil {
					return err
				}
			}
			parentSide := cur.side

			var newSubRoot *node
			if (heavySide == sideLeft && child.bal != balRight) || (heavySide == sideRight && child.bal != balLeft) {
				newSubRoot, err = t.rotateSingle(ctx, cur, heavySide)
			} else {
				newSubRoot, err = t.rotateDouble(ctx, cur, heavySide)
			}
			if err != nil {
				return err
			}
			return t.attachToParent(ctx, parent, parentSide, newSubRoot)
		}
	}
}
