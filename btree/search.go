package btree

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
)

// frame is one level of a search_stack entry (spec.md §4.6): the page
// visited, the child/entry index chosen, and the lock held on it (if
// standard locking is in effect).
type frame struct {
	pgno   contract.Pgno
	index  int
	handle contract.LockHandle
	locked bool
}

// acquire implements the locking half of the ACQUIRE protocol (spec.md
// §4.6): lock-couple from the previous hold to target, or plainly acquire
// when nothing is held, waiting out a LockWait. It does not pin or unpin
// pages; descend does that via loadPage and cache.Put. When locks is nil
// the caller runs lock-free (single-writer callers such as the CLI tools).
func (t *Tree) acquire(ctx context.Context, locker contract.LockerID, held contract.LockHandle, haveHeld bool, target contract.Pgno, mode contract.LockMode) (contract.LockHandle, bool, error) {
	if t.locks == nil {
		return contract.LockHandle{}, false, nil
	}
	key := contract.PageKey(t.file, target)
	var (
		res    contract.LockResult
		handle contract.LockHandle
		err    error
	)
	if haveHeld {
		res, handle, err = t.locks.Couple(ctx, locker, held, key, mode)
	} else {
		res, handle, err = t.locks.Acquire(ctx, locker, key, mode, contract.LockFlagNone)
	}
	if err != nil {
		return contract.LockHandle{}, false, err
	}
	if res == contract.LockWait {
		res, err = t.locks.Wait(ctx, handle)
		if err != nil {
			return contract.LockHandle{}, false, err
		}
	}
	if res == contract.LockDeadlock {
		return contract.LockHandle{}, false, errkind.New("btree.acquire", errkind.Deadlock)
	}
	return handle, true, nil
}

// descend walks root-to-leaf, lock-coupling at READ mode through every
// internal page and upgrading to leafMode only at the leaf (spec.md §4.6:
// "Root-to-leaf descent uses this repeatedly at READ mode; write operations
// upgrade on the leaf only") — never taking a write lock on an ancestor just
// because the caller ultimately wants to mutate the leaf. Callers that only
// need the leaf (Get) may release everything but the last frame; callers
// that may need to walk back up for a split or reverse-split keep the
// stack.
func (t *Tree) descend(ctx context.Context, locker contract.LockerID, bound compare.Bound, leafMode contract.LockMode) ([]frame, *page.Page, []byte, error) {
	var stack []frame
	pgno := t.rootPgno()
	var held contract.LockHandle
	haveHeld := false

	for {
		handle, locked, err := t.acquire(ctx, locker, held, haveHeld, pgno, contract.LockRead)
		if err != nil {
			return nil, nil, nil, err
		}
		held, haveHeld = handle, locked

		p, buf, err := t.loadPage(ctx, pgno)
		if err != nil {
			return nil, nil, nil, err
		}

		if p.Type.IsLeaf() {
			if leafMode != contract.LockRead {
				handle, locked, err = t.acquire(ctx, locker, held, haveHeld, pgno, leafMode)
				if err != nil {
					_ = t.cache.Put(t.file, pgno, false)
					return nil, nil, nil, err
				}
				held, haveHeld = handle, locked
			}
			stack = append(stack, frame{pgno: pgno, handle: held, locked: locked})
			return stack, p, buf, nil
		}

		idx := searchInternal(p, t.opt.Spec, bound)
		stack = append(stack, frame{pgno: pgno, index: idx, handle: held, locked: locked})
		child := p.Entry(idx).ChildPtr()
		if err := t.cache.Put(t.file, pgno, false); err != nil {
			return nil, nil, nil, err
		}
		pgno = child
	}
}

// searchInternal returns the index of the child pointer to follow: the
// last entry whose separator key is <= bound (entry 0's key is a
// universal lower sentinel, matching filodb_btree.go's nodeLookupLE).
func searchInternal(p *page.Page, spec compare.KeySpec, bound compare.Bound) int {
	found := 0
	for i := 1; i < p.NumSlots(); i++ {
		key := keyOf(p.Entry(i), spec)
		if compare.CompareBound(spec, key, compare.Bound{Values: bound.Values, Side: compare.SideExact}) <= 0 {
			found = i
		} else {
			break
		}
	}
	return found
}

// searchLeaf finds bound's position within a decoded leaf page: the first
// entry whose key is >= bound, and whether it is an exact match.
func searchLeaf(p *page.Page, spec compare.KeySpec, bound compare.Bound) (pos int, exact bool) {
	for i := 0; i < p.NumSlots(); i++ {
		key := keyOf(p.Entry(i), spec)
		c := compare.CompareBound(spec, key, compare.Bound{Values: bound.Values, Side: compare.SideExact})
		if c == 0 {
			return i, true
		}
		if c > 0 {
			return i, false
		}
	}
	return p.NumSlots(), false
}

// releaseStack unpins and unlocks every frame, innermost first.
func (t *Tree) releaseStack(stack []frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		_ = t.cache.Put(t.file, stack[i].pgno, false)
		if stack[i].locked && t.locks != nil {
			_ = t.locks.Release(stack[i].handle)
		}
	}
}

// releaseLocks unlocks every frame without touching its pin, for callers
// that have already unpinned each page themselves (reverseSplit's cascade).
func (t *Tree) releaseLocks(stack []frame) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].locked && t.locks != nil {
			_ = t.locks.Release(stack[i].handle)
		}
	}
}

// Get performs a point lookup, returning the stored value and true if
// found. It releases every lock/pin except (transiently) the leaf, which
// it drops before returning.
func (t *Tree) Get(ctx context.Context, locker contract.LockerID, key []compare.AttrValue) ([]byte, bool, error) {
	bound := compare.Bound{Values: key, Side: compare.SideExact}
	stack, leaf, _, err := t.descend(ctx, locker, bound, contract.LockRead)
	if err != nil {
		return nil, false, err
	}
	defer t.releaseStack(stack)

	pos, exact := searchLeaf(leaf, t.opt.Spec, bound)
	if !exact {
		return nil, false, nil
	}
	e := leaf.Entry(pos)
	if e.PendingDelete {
		return nil, false, nil
	}
	switch e.Kind {
	case page.EntryKeyData:
		return e.Val, true, nil
	default:
		// overflow/duplicate-subtree entries have no single inline value;
		// Get reports them as found with a nil value.
		return nil, true, nil
	}
}
