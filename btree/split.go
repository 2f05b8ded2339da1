package btree

import (
	"context"
	"errors"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
)

// splitLeaf re-descends to the overflowing leaf under a full write-locked
// stack and splits it, promoting a separator key into the parent —
// cascading upward through as many levels as overflow, and growing a new
// root if the split reaches the top (spec.md §4.7 "split_leaf ... possibly
// cascading up to a new root").
func (t *Tree) splitLeaf(ctx context.Context, locker contract.LockerID, _ contract.Pgno, bound compare.Bound) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stack, leaf, leafBuf, err := t.descend(ctx, locker, bound, contract.LockWrite)
	if err != nil {
		return err
	}
	// The leaf is the only pinned frame (descend unpins ancestors as it
	// walks down, keeping only their locks); promote() re-pins and unpins
	// each ancestor page itself via loadPage/storePage, so only the leaf's
	// pin and every frame's lock are released here.
	defer func() {
		t.releaseStack(stack[len(stack)-1:])
		t.releaseLocks(stack[:len(stack)-1])
	}()

	if leaf.NumSlots() < 2 {
		// Nothing to split: either a concurrent operation already relieved
		// the overflow, or a single oversized entry belongs off-page —
		// either way there is nothing this pass can do.
		return nil
	}

	rightPgno, rightBuf, err := t.cache.Alloc(ctx, t.file)
	if err != nil {
		return err
	}
	oldNext := leaf.Next
	right := &page.Page{Header: page.Header{Pgno: rightPgno, Type: leaf.Type, Next: oldNext, Prev: leaf.Pgno}, Cookie: t.opt.Cookie}

	mid := leaf.NumSlots() / 2
	for i := mid; i < leaf.NumSlots(); i++ {
		right.InsertEntry(right.NumSlots(), leaf.Entry(i))
	}
	for i := leaf.NumSlots() - 1; i >= mid; i-- {
		leaf.RemoveEntry(i)
	}
	leaf.Next = rightPgno

	if oldNext != 0 {
		if err := t.relinkPrev(ctx, oldNext, rightPgno); err != nil {
			return err
		}
	}

	separator := append([]byte(nil), right.Entry(0).Key...)

	if err := t.storePage(leaf, leafBuf, stack[len(stack)-1].pgno, true); err != nil {
		return err
	}
	if err := t.storePage(right, rightBuf, rightPgno, true); err != nil {
		return err
	}

	return t.promote(ctx, stack[:len(stack)-1], separator, rightPgno)
}

func (t *Tree) relinkPrev(ctx context.Context, pgno, newPrev contract.Pgno) error {
	p, buf, err := t.loadPage(ctx, pgno)
	if err != nil {
		return err
	}
	p.Prev = newPrev
	return t.storePage(p, buf, pgno, true)
}

// promote inserts (separator, rightPgno) into the parent named by the top
// of stack, splitting the parent in turn if it overflows, or creating a
// brand-new root if stack is empty (the split reached the former root).
func (t *Tree) promote(ctx context.Context, stack []frame, separator []byte, rightPgno contract.Pgno) error {
	if len(stack) == 0 {
		return t.newRoot(ctx, separator, rightPgno)
	}

	parentFrame := stack[len(stack)-1]
	parent, buf, err := t.loadPage(ctx, parentFrame.pgno)
	if err != nil {
		return err
	}
	parent.InsertEntry(parentFrame.index+1, page.Entry{Kind: page.EntryKeyData, Key: separator, DupPgno: rightPgno})

	err = t.storePage(parent, buf, parentFrame.pgno, true)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errkind.NeedsSplitErr) {
		return err
	}

	// Parent overflowed too: split it the same way, promoting one level
	// further up. The in-memory parent already holds the new entry, which
	// is what we split below; storePage's failed Encode released the
	// parent's pin, so it is re-pinned before the halves are written back.
	if buf, err = t.cache.Get(ctx, t.file, parentFrame.pgno); err != nil {
		return err
	}
	mid := parent.NumSlots() / 2
	newRight := &page.Page{Header: page.Header{Pgno: 0, Type: parent.Type}, Cookie: t.opt.Cookie}
	for i := mid; i < parent.NumSlots(); i++ {
		newRight.InsertEntry(newRight.NumSlots(), parent.Entry(i))
	}
	for i := parent.NumSlots() - 1; i >= mid; i-- {
		parent.RemoveEntry(i)
	}

	newPgno, newBuf, err := t.cache.Alloc(ctx, t.file)
	if err != nil {
		return err
	}
	newRight.Pgno = newPgno
	nextSeparator := append([]byte(nil), newRight.Entry(0).Key...)
	// The promoted entry's key is absorbed into the parent link above; the
	// surviving copy in newRight keeps its child pointer with a cleared
	// key, matching the internal-page "entry 0 has no key" convention
	// (spec.md §4.7, mirroring filodb_btree.go's dummy first key).
	first := newRight.Entry(0)
	first.Key = nil
	newRight.SetEntry(0, first)

	if err := t.storePage(parent, buf, parentFrame.pgno, true); err != nil {
		return err
	}
	if err := t.storePage(newRight, newBuf, newPgno, true); err != nil {
		return err
	}

	return t.promote(ctx, stack[:len(stack)-1], nextSeparator, newPgno)
}

// newRoot builds a fresh internal root over the old root (now left) and
// right, promoted one level when a split reaches the top of the tree
// (spec.md §4.7).
func (t *Tree) newRoot(ctx context.Context, separator []byte, rightPgno contract.Pgno) error {
	rootPgno, rootBuf, err := t.cache.Alloc(ctx, t.file)
	if err != nil {
		return err
	}
	root := &page.Page{Header: page.Header{Pgno: rootPgno, Type: page.TypeInternalBTree}, Cookie: t.opt.Cookie}
	root.InsertEntry(0, page.Entry{Kind: page.EntryKeyData, Key: nil, DupPgno: t.rootPgno()})
	root.InsertEntry(1, page.Entry{Kind: page.EntryKeyData, Key: separator, DupPgno: rightPgno})
	if err := t.storePage(root, rootBuf, rootPgno, true); err != nil {
		return err
	}
	return t.setRoot(ctx, rootPgno)
}
