package btree

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
)

// Delete logically removes key (or, for a duplicate key, the entry
// matching val): it sets the entry's pending-delete flag and takes a
// write lock on the leaf, leaving it visible to readers already holding
// an older read lock on the page (spec.md §4.8). Physical removal is the
// cursor subsystem's responsibility, invoked here only via PhysicalDelete
// for callers (tests) without a live cursor.
func (t *Tree) Delete(ctx context.Context, locker contract.LockerID, key []compare.AttrValue, val []byte) error {
	bound := compare.Bound{Values: key, Side: compare.SideExact}
	stack, leaf, buf, err := t.descend(ctx, locker, bound, contract.LockWrite)
	if err != nil {
		return err
	}
	defer t.releaseStack(stack)

	pos, exact := searchLeaf(leaf, t.opt.Spec, bound)
	if !exact {
		return errkind.New("btree.Delete", errkind.NotFound)
	}
	e := leaf.Entry(pos)
	if e.Kind == page.EntryDuplicate {
		return t.deleteFromDupSubtree(ctx, e.DupPgno, val)
	}
	if val != nil && !bytesEqual(e.Val, val) {
		// Locate the matching duplicate within the run rather than entry
		// `pos` itself (sorted/unsorted inline duplicates).
		found := -1
		for i := pos; i < leaf.NumSlots() && bytesEqual(leaf.Entry(i).Key, e.Key); i++ {
			if bytesEqual(leaf.Entry(i).Val, val) {
				found = i
				break
			}
		}
		if found < 0 {
			return errkind.New("btree.Delete", errkind.NotFound)
		}
		pos = found
		e = leaf.Entry(pos)
	}

	e.PendingDelete = true
	leaf.SetEntry(pos, e)
	return t.storePage(leaf, buf, stack[len(stack)-1].pgno, true)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tree) deleteFromDupSubtree(ctx context.Context, subPgno contract.Pgno, val []byte) error {
	p, buf, err := t.loadPage(ctx, subPgno)
	if err != nil {
		return err
	}
	for i := 0; i < p.NumSlots(); i++ {
		if bytesEqual(p.Entry(i).Val, val) {
			e := p.Entry(i)
			e.PendingDelete = true
			p.SetEntry(i, e)
			return t.storePage(p, buf, subPgno, true)
		}
	}
	_ = t.cache.Put(t.file, subPgno, false)
	return errkind.New("btree.Delete", errkind.NotFound)
}

// PhysicalDelete removes every pending-delete entry matching key from the
// leaf (spec.md §4.8): called once a cursor (or, here, the caller directly)
// has confirmed no cursor is still positioned on the record. If the leaf
// becomes empty, is not the tree's last remaining leaf, and ReverseSplit is
// enabled, a reverse-split detaches it (and cascades to any ancestor left
// with no children) using the same write-locked descent stack, so the
// emptiness check and the detach happen under one continuous hold.
func (t *Tree) PhysicalDelete(ctx context.Context, locker contract.LockerID, key []compare.AttrValue) error {
	bound := compare.Bound{Values: key, Side: compare.SideExact}
	stack, leaf, buf, err := t.descend(ctx, locker, bound, contract.LockWrite)
	if err != nil {
		return err
	}

	removed := false
	for i := leaf.NumSlots() - 1; i >= 0; i-- {
		e := leaf.Entry(i)
		if e.PendingDelete && sameCompositeKey(e.Key, key, t.opt.Spec) {
			if e.Kind == page.EntryDuplicate {
				_ = t.cache.Free(ctx, t.file, e.DupPgno)
			}
			leaf.RemoveEntry(i)
			removed = true
		}
	}
	if !removed {
		t.releaseStack(stack)
		return nil
	}

	leafPgno := stack[len(stack)-1].pgno
	if err := t.storePage(leaf, buf, leafPgno, true); err != nil {
		t.releaseStack(stack)
		return err
	}

	empty := leaf.NumSlots() == 0
	isLastLeaf := leaf.Prev == 0 && leaf.Next == 0
	if !empty || isLastLeaf || !t.opt.ReverseSplit {
		t.releaseStack(stack)
		return nil
	}

	return t.reverseSplit(ctx, stack, leaf.Prev, leaf.Next)
}

func sameCompositeKey(entryKey []byte, key []compare.AttrValue, spec compare.KeySpec) bool {
	decoded := decodeCompositeKey(entryKey, spec)
	return compare.Key(spec, decoded, key) == 0
}

// reverseSplit detaches the now-empty leaf at the bottom of stack from its
// siblings and its parent, re-verifying emptiness under the write lock
// already held, then cascades one level up for every ancestor left with no
// children of its own (spec.md §4.8: "acquires the minimal top-down stack
// of pages that all become empty in this operation, verifies under lock
// that they are still empty, and detaches them"). No WAL record is written
// for a freed page, here or by any caller in this module.
//
// stack's pages are already unpinned by descend except the leaf, which the
// caller still holds; every lock in stack is still held throughout. This
// function is responsible for releasing all of them exactly once, on every
// return path.
func (t *Tree) reverseSplit(ctx context.Context, stack []frame, leafPrev, leafNext contract.Pgno) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// pinsDone tracks how many trailing stack frames have already had
	// their page unpinned inline by this function, so the single deferred
	// release below unpins only what's left and unlocks everything.
	pinsDone := 1
	defer func() {
		t.releaseStack(stack[:len(stack)-pinsDone])
		t.releaseLocks(stack[len(stack)-pinsDone:])
	}()

	cur := stack[len(stack)-1].pgno
	p, _, err := t.loadPage(ctx, cur)
	if err != nil {
		return err
	}
	if p.NumSlots() != 0 {
		// A concurrent insert refilled the page between releases; nothing
		// to detach.
		return t.cache.Put(t.file, cur, false)
	}
	if err := t.cache.Put(t.file, cur, false); err != nil {
		return err
	}
	if leafPrev != 0 {
		if err := t.relinkNext(ctx, leafPrev, leafNext); err != nil {
			return err
		}
	}
	if leafNext != 0 {
		if err := t.relinkPrev(ctx, leafNext, leafPrev); err != nil {
			return err
		}
	}
	if err := t.cache.Free(ctx, t.file, cur); err != nil {
		return err
	}

	// Cascade: detach cur's parent link, and keep climbing as long as the
	// parent itself becomes childless. Every level visited here gets
	// unpinned inline, tracked via pinsDone so the deferred release only
	// unlocks it.
	for level := len(stack) - 2; level >= 0; level-- {
		parentFrame := stack[level]
		parent, buf, err := t.loadPage(ctx, parentFrame.pgno)
		if err != nil {
			return err
		}
		if parentFrame.index < parent.NumSlots() {
			parent.RemoveEntry(parentFrame.index)
		}
		if parent.NumSlots() > 0 || level == 0 {
			pinsDone++
			return t.storePage(parent, buf, parentFrame.pgno, true)
		}
		if err := t.cache.Put(t.file, parentFrame.pgno, false); err != nil {
			return err
		}
		pinsDone++
		if err := t.cache.Free(ctx, t.file, parentFrame.pgno); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) relinkNext(ctx context.Context, pgno, newNext contract.Pgno) error {
	p, buf, err := t.loadPage(ctx, pgno)
	if err != nil {
		return err
	}
	p.Next = newNext
	return t.storePage(p, buf, pgno, true)
}
