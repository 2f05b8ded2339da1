package ttree

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Insert adds (loc, version) to the tree, keyed by reading its attributes
// from the heap (spec.md §4.5 "Insert").
func (t *Tree) Insert(ctx context.Context, loc contract.TupLoc, version contract.TupleVersion) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	vals, err := t.keyOf(ctx, entry{loc: loc, version: version})
	if err != nil {
		return err
	}
	bound := compare.Bound{Values: vals, Side: compare.SideExact}

	if t.root.IsNull() {
		rootLoc, err := t.allocNode(ctx)
		if err != nil {
			return err
		}
		n := &node{self: rootLoc, side: sideRoot}
		n.entries = []entry{{loc: loc, version: version}}
		if err := t.setNodePref(ctx, n); err != nil {
			return err
		}
		if err := t.storeNode(ctx, n); err != nil {
			return err
		}
		t.root = rootLoc
		return t.ensureSpare(ctx)
	}

	res, err := t.findNodeToUpdate(ctx, bound)
	if err != nil {
		return err
	}
	target := res.target
	pos, exact, err := t.findPosToAdd(ctx, target, bound, loc)
	if err != nil {
		return err
	}
	if exact {
		return errkind.New("ttree.Insert", errkind.KeyExists)
	}

	newEntry := entry{loc: loc, version: version}

	if target.occup() < t.cfg.MaxOccup {
		target.entries = insertAt(target.entries, pos, newEntry)
		if pos == 0 {
			if err := t.setNodePref(ctx, target); err != nil {
				return err
			}
		}
		if err := t.storeNode(ctx, target); err != nil {
			return err
		}
		return t.ensureSpare(ctx)
	}

	if res.glb != nil && res.glb.occup() < t.cfg.MaxOccup {
		if err := t.slideDownAndInsert(ctx, target, res.glb, pos, newEntry); err != nil {
			return err
		}
		return t.ensureSpare(ctx)
	}

	if err := t.splitAndInsert(ctx, target, pos, newEntry); err != nil {
		return err
	}
	return t.ensureSpare(ctx)
}

func insertAt(entries []entry, pos int, e entry) []entry {
	entries = append(entries, entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries
}

// slideDownAndInsert moves target's current minimum into glb (pop-down on
// target, push-up on glb; spec.md §4.5 "slides down to it via a pop-down,
// push-up pair"), freeing room in target for the new entry.
func (t *Tree) slideDownAndInsert(ctx context.Context, target, glb *node, pos int, newEntry entry) error {
	displaced := target.entries[0]
	target.entries = target.entries[1:]
	pos--
	if pos < 0 {
		pos = 0
	}
	target.entries = insertAt(target.entries, pos, newEntry)
	if err := t.setNodePref(ctx, target); err != nil {
		return err
	}
	if err := t.storeNode(ctx, target); err != nil {
		return err
	}

	glb.entries = append(glb.entries, displaced)
	return t.storeNode(ctx, glb)
}

// splitAndInsert handles a full target node with no usable GLB: a new node
// (from the pre-allocated spare) takes the entry displaced off whichever
// edge overflowed, and the new entry lands in target (spec.md §4.5 "a new
// node is created ... seeded with the displaced minimum").
func (t *Tree) splitAndInsert(ctx context.Context, target *node, pos int, newEntry entry) error {
	newLoc, err := t.takeSpare(ctx)
	if err != nil {
		return err
	}
	newNode := &node{self: newLoc}

	if pos == 0 {
		displaced := target.entries[0]
		target.entries = target.entries[1:]
		target.entries = insertAt(target.entries, 0, newEntry)
		newNode.entries = []entry{displaced}
		newNode.side = sideLeft
		newNode.parent = target.self
		target.left = newLoc
	} else {
		last := len(target.entries) - 1
		displaced := target.entries[last]
		target.entries = target.entries[:last]
		if pos > len(target.entries) {
			pos = len(target.entries)
		}
		target.entries = insertAt(target.entries, pos, newEntry)
		newNode.entries = []entry{displaced}
		newNode.side = sideRight
		newNode.parent = target.self
		target.right = newLoc
	}

	if err := t.setNodePref(ctx, newNode); err != nil {
		return err
	}
	if err := t.storeNode(ctx, newNode); err != nil {
		return err
	}
	if err := t.setNodePref(ctx, target); err != nil {
		return err
	}
	if err := t.storeNode(ctx, target); err != nil {
		return err
	}

	return t.rebalanceAfterAdd(ctx, target, newNode.side)
}
