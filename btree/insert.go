package btree

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
)

// maxInlineDups bounds how many duplicates of one key a leaf keeps inline
// before promoting the run to an off-page subtree (spec.md §4.7 case 4).
const maxInlineDups = 8

// tolerateDuplicateDuplicates controls whether an unsorted duplicate-key
// leaf rejects an exact repeat of an already-present (key, val) pair.
// Grounded on db_cam.c's commented-out "XXX: MARGO" path (spec.md §9 open
// question 4): the source leaves this case unresolved rather than deciding
// it one way or the other, so this stays false — repeats pass through
// unchecked, per insertDuplicate's unsorted branch below — instead of
// guessing at intent that isn't in the source.
const tolerateDuplicateDuplicates = false

// Insert adds (key, val) under the configured duplicate policy (spec.md
// §4.7): unique trees reject an existing key with key_exists; sorted
// duplicate trees binary-search the run and reject an identical
// (key, val) pair unless it is pending-delete (then it is resurrected in
// place); unsorted duplicate trees append at the run's boundary.
func (t *Tree) Insert(ctx context.Context, locker contract.LockerID, key []compare.AttrValue, val []byte) error {
	bound := compare.Bound{Values: key, Side: compare.SideExact}
	keyBytes := EncodeCompositeKey(t.opt.Spec, key)

	for {
		stack, leaf, buf, err := t.descend(ctx, locker, bound, contract.LockWrite)
		if err != nil {
			return err
		}

		err = t.insertInLeaf(ctx, locker, leaf, keyBytes, val)
		if err == nil {
			err = t.storePage(leaf, buf, stack[len(stack)-1].pgno, true)
		}
		if err == nil {
			t.lastLeaf.set(stack[len(stack)-1].pgno)
			t.releaseStack(stack)
			return nil
		}

		if !errors.Is(err, errkind.NeedsSplitErr) {
			_ = t.cache.Put(t.file, stack[len(stack)-1].pgno, false)
			t.releaseLocks(stack)
			return err
		}

		// Release everything — pin and lock, leaf included — and restart the
		// request from the top, per spec.md §4.7's split: label — splitLeaf
		// re-descends and needs the leaf and its ancestors free to be
		// relocked from scratch, not held over from this pass.
		leafPgno := stack[len(stack)-1].pgno
		_ = t.cache.Put(t.file, leafPgno, false)
		t.releaseLocks(stack)
		if err := t.splitLeaf(ctx, locker, leafPgno, bound); err != nil {
			return err
		}
		// fall through: restart from the top with the new tree shape
	}
}

func (t *Tree) insertInLeaf(ctx context.Context, locker contract.LockerID, leaf *page.Page, keyBytes, val []byte) error {
	bound := compare.Bound{Values: decodeCompositeKey(keyBytes, t.opt.Spec), Side: compare.SideExact}
	pos, exact := searchLeaf(leaf, t.opt.Spec, bound)

	if !exact {
		leaf.InsertEntry(pos, page.Entry{Kind: page.EntryKeyData, Key: keyBytes, Val: val})
		return nil
	}

	existing := leaf.Entry(pos)
	if t.opt.Unique {
		if existing.PendingDelete {
			existing.PendingDelete = false
			existing.Val = val
			leaf.SetEntry(pos, existing)
			return nil
		}
		return errkind.New("btree.Insert", errkind.KeyExists)
	}

	return t.insertDuplicate(ctx, locker, leaf, pos, keyBytes, val)
}

// insertDuplicate handles cases 2/3/4 of spec.md §4.7 for a key that
// already has at least one entry on this leaf.
func (t *Tree) insertDuplicate(ctx context.Context, locker contract.LockerID, leaf *page.Page, pos int, keyBytes, val []byte) error {
	runEnd := pos
	for runEnd < leaf.NumSlots() && bytes.Equal(leaf.Entry(runEnd).Key, keyBytes) {
		runEnd++
	}
	runStart := pos
	for runStart > 0 && bytes.Equal(leaf.Entry(runStart-1).Key, keyBytes) {
		runStart--
	}

	if leaf.Entry(runStart).Kind == page.EntryDuplicate {
		return t.insertIntoDupSubtree(ctx, locker, leaf.Entry(runStart).DupPgno, val)
	}

	if t.opt.Sorted {
		i := runStart + sort.Search(runEnd-runStart, func(j int) bool {
			return bytes.Compare(leaf.Entry(runStart+j).Val, val) >= 0
		})
		if i < runEnd && bytes.Equal(leaf.Entry(i).Val, val) {
			e := leaf.Entry(i)
			if e.PendingDelete {
				e.PendingDelete = false
				leaf.SetEntry(i, e)
				return nil
			}
			return errkind.New("btree.Insert", errkind.KeyExists)
		}
		if runEnd-runStart+1 > maxInlineDups {
			return t.promoteDupRun(ctx, locker, leaf, runStart, runEnd, keyBytes, val)
		}
		leaf.InsertEntry(i, page.Entry{Kind: page.EntryKeyData, Key: keyBytes, Val: val})
		return nil
	}

	// Unsorted: append at the run's boundary (spec.md §4.7 case 3). An exact
	// repeat of an already-present (key, val) pair is neither deduplicated
	// nor rejected here; see tolerateDuplicateDuplicates.
	if runEnd-runStart+1 > maxInlineDups {
		return t.promoteDupRun(ctx, locker, leaf, runStart, runEnd, keyBytes, val)
	}
	leaf.InsertEntry(runEnd, page.Entry{Kind: page.EntryKeyData, Key: keyBytes, Val: val})
	return nil
}

// promoteDupRun replaces an over-long inline duplicate run with a single
// EntryDuplicate pointer to a freshly rooted secondary tree holding every
// value in the run plus the new one (spec.md §4.7 case 4).
func (t *Tree) promoteDupRun(ctx context.Context, locker contract.LockerID, leaf *page.Page, runStart, runEnd int, keyBytes, val []byte) error {
	subPgno, subBuf, err := t.cache.Alloc(ctx, t.file)
	if err != nil {
		return errkind.Wrap("btree.promoteDupRun", errkind.IOError, err)
	}
	sub := &page.Page{Header: page.Header{Pgno: subPgno, Type: page.TypeLeafDuplicate}, Cookie: t.opt.Cookie}
	vals := make([][]byte, 0, runEnd-runStart+1)
	for i := runStart; i < runEnd; i++ {
		vals = append(vals, leaf.Entry(i).Val)
	}
	vals = append(vals, val)
	for i, v := range vals {
		sub.InsertEntry(i, page.Entry{Kind: page.EntryKeyData, Key: nil, Val: v})
	}
	if err := t.storePage(sub, subBuf, subPgno, true); err != nil {
		return err
	}

	for i := runEnd - 1; i >= runStart; i-- {
		leaf.RemoveEntry(i)
	}
	leaf.InsertEntry(runStart, page.Entry{Kind: page.EntryDuplicate, Key: keyBytes, DupPgno: subPgno})
	return nil
}

// insertIntoDupSubtree inserts val, in ascending value order, into an
// existing off-page duplicate subtree, rooted at subPgno within the same
// page file.
func (t *Tree) insertIntoDupSubtree(ctx context.Context, locker contract.LockerID, subPgno contract.Pgno, val []byte) error {
	p, buf, err := t.loadPage(ctx, subPgno)
	if err != nil {
		return err
	}
	pos := p.NumSlots()
	for i := 0; i < p.NumSlots(); i++ {
		if bytes.Compare(p.Entry(i).Val, val) > 0 {
			pos = i
			break
		}
	}
	p.InsertEntry(pos, page.Entry{Kind: page.EntryKeyData, Val: val})
	return t.storePage(p, buf, subPgno, true)
}
