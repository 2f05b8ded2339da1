// Package cursor implements the scan state machine over a Source (spec.md
// §4.9); *ttree.Tree is the only Source, and on-disk B-tree fragments have
// no cursor adapter: First/Next/Current/Found/Blocked/Locked/Last/Aborting/Invalid,
// bound evaluation, visibility + dedup-by-TupLoc, row locking, and
// close/abort. Grounded on the teacher's TableScanner (filodb_scanner.go's
// Start/Next/Current shape) generalized from a flat key-value BIter to a
// tree Position plus a heap-backed visibility/locking pass, and on
// original_source/bdb/btree/bt_cursor.c for the state names and the
// abort-with-confirm close semantics.
package cursor

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/ttree"
)

// State names one stop in the scan life-cycle (spec.md §4.9's state table).
type State int

const (
	StateInvalid State = iota
	StateFirst
	StateNext
	StateCurrent
	StateFound
	StateBlocked
	StateLocked
	StateLast
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateFirst:
		return "First"
	case StateNext:
		return "Next"
	case StateCurrent:
		return "Current"
	case StateFound:
		return "Found"
	case StateBlocked:
		return "Blocked"
	case StateLocked:
		return "Locked"
	case StateLast:
		return "Last"
	case StateAborting:
		return "Aborting"
	default:
		return "Invalid"
	}
}

// nextScanID hands out process-wide unique scan identifiers for node
// park/unpark bookkeeping (spec.md §4.5 "scan relink on structural change").
var nextScanID uint64

func allocScanID() uint64 { return atomic.AddUint64(&nextScanID, 1) }

// Source is the tree-side half of the shared scan protocol: anything that
// can position, step, and report an entry by Position satisfies it.
// *ttree.Tree implements this directly; a B-tree leaf-chain adapter would
// implement the same shape over page numbers instead of heap TupLocs.
type Source interface {
	First(ctx context.Context) (ttree.Position, error)
	Last(ctx context.Context) (ttree.Position, error)
	Seek(ctx context.Context, bound compare.Bound) (ttree.Position, bool, error)
	Next(ctx context.Context, pos ttree.Position) (ttree.Position, bool, error)
	Prev(ctx context.Context, pos ttree.Position) (ttree.Position, bool, error)
	Entry(ctx context.Context, pos ttree.Position) (contract.TupLoc, contract.TupleVersion, error)
	ParkScan(ctx context.Context, pos ttree.Position, scanID uint64) error
	UnparkScan(ctx context.Context, pos ttree.Position, scanID uint64) error
}

// Row is one entry a cursor has positioned on and (if required) locked.
type Row struct {
	Loc     contract.TupLoc
	Version contract.TupleVersion
	Lock    contract.LockHandle
	Locked  bool
}

// Options configures a Cursor's scan range, visibility, and locking policy.
type Options struct {
	Spec          compare.KeySpec
	Lower         compare.Bound // zero value: scan from First()
	Upper         compare.Bound // zero value: scan to Last()
	HasLower      bool
	HasUpper      bool
	Ascending     bool
	ReadCommitted bool // skip row locking entirely
	LockMode      contract.LockMode
	Frag          contract.FragmentID
	File          contract.FileID // row-lock namespace (spec.md §4.9 locking)
	Txn           contract.TxnID
	Locker        contract.LockerID
	Savepoint     contract.SavepointID
	Dirty         bool // Visible's "see my own uncommitted writes" flag
}

// Cursor drives one scan over a Source, per spec.md §4.9.
type Cursor struct {
	src   Source
	heap  contract.HeapStore
	locks contract.LockManager
	opt   Options

	state   State
	pos     ttree.Position
	scanID  uint64
	parked  bool
	lastLoc contract.TupLoc

	pendingLoc     contract.TupLoc
	pendingVersion contract.TupleVersion

	heldScanLocks  []contract.LockHandle
	lockWaitHandle contract.LockHandle
	waiting        bool
}

// Open constructs a cursor and positions it at First (ascending) or Last
// (descending), per spec.md §4.9's First state: "scan_first performs a
// ranged search using bound_lower (for ascending) or bound_upper
// (descending)".
func Open(ctx context.Context, src Source, heap contract.HeapStore, locks contract.LockManager, opt Options) (*Cursor, error) {
	c := &Cursor{src: src, heap: heap, locks: locks, opt: opt, scanID: allocScanID()}

	var pos ttree.Position
	var ok bool
	var err error
	switch {
	case opt.Ascending && opt.HasLower:
		pos, ok, err = src.Seek(ctx, opt.Lower)
	case !opt.Ascending && opt.HasUpper:
		pos, ok, err = src.Seek(ctx, opt.Upper)
	case opt.Ascending:
		pos, err = src.First(ctx)
		ok = err == nil
	default:
		pos, err = src.Last(ctx)
		ok = err == nil
	}
	if err != nil {
		if kind, ok := errkind.Of(err); ok && kind == errkind.NotFound {
			c.state = StateLast
			return c, nil
		}
		c.state = StateInvalid
		return c, err
	}
	if !ok {
		c.state = StateLast
		return c, nil
	}
	c.pos = pos
	c.state = StateCurrent
	return c, nil
}

// Next advances the cursor and returns the next visible, lockable row
// (spec.md §4.9's scan_next / visibility / locking passes combined). ok is
// false once the scan reaches Last; err is non-nil only for a genuine
// failure (lock-manager deadlock, storage error) distinct from end-of-scan.
func (c *Cursor) Next(ctx context.Context) (Row, bool, error) {
	for {
		switch c.state {
		case StateLast, StateInvalid, StateAborting:
			return Row{}, false, nil

		case StateCurrent, StateFirst:
			loc, version, err := c.src.Entry(ctx, c.pos)
			if err != nil {
				c.state = StateInvalid
				return Row{}, false, err
			}
			if !c.inBounds(ctx, loc) {
				c.state = StateLast
				return Row{}, false, nil
			}
			if loc == c.lastLoc || !c.heap.Visible(ctx, c.opt.Frag, loc, version, c.opt.Txn, c.opt.Dirty, c.opt.Savepoint) {
				c.state = StateNext
				continue
			}
			c.state = StateFound
			c.pendingLoc, c.pendingVersion = loc, version
			continue

		case StateNext:
			if err := c.advance(ctx); err != nil {
				c.state = StateInvalid
				return Row{}, false, err
			}
			continue

		case StateFound:
			row, done, err := c.lockCandidate(ctx)
			if err != nil {
				c.state = StateInvalid
				return Row{}, false, err
			}
			if !done {
				if c.state == StateBlocked {
					// lock wait pending: the StateBlocked case waits for it.
					continue
				}
				// refused: row vanished between Visible and lock acquire.
				c.state = StateNext
				continue
			}
			c.state = StateLocked
			return row, true, nil

		case StateLocked:
			// caller has consumed the previous row; step to find the next.
			c.state = StateNext
			continue

		case StateBlocked:
			res, err := c.locks.Wait(ctx, c.lockWaitHandle)
			c.waiting = false
			if err != nil {
				c.state = StateInvalid
				return Row{}, false, err
			}
			if res == contract.LockDeadlock {
				c.state = StateInvalid
				return Row{}, false, errkind.New("cursor.Next", errkind.Deadlock)
			}
			// if a concurrent structural change relocated the cursor while
			// it waited, ParkScan/UnparkScan already moved c.pos; either
			// way re-evaluate the (possibly new) current entry.
			c.heldScanLocks = append(c.heldScanLocks, c.lockWaitHandle)
			c.state = StateCurrent
			continue

		default:
			return Row{}, false, nil
		}
	}
}

func (c *Cursor) advance(ctx context.Context) error {
	if c.parked {
		if err := c.src.UnparkScan(ctx, c.pos, c.scanID); err != nil {
			return err
		}
		c.parked = false
	}
	var next ttree.Position
	var ok bool
	var err error
	if c.opt.Ascending {
		next, ok, err = c.src.Next(ctx, c.pos)
	} else {
		next, ok, err = c.src.Prev(ctx, c.pos)
	}
	if err != nil {
		return err
	}
	if !ok {
		c.state = StateLast
		return nil
	}
	c.pos = next
	c.state = StateCurrent
	return nil
}

// inBounds applies the opposite-bound check (spec.md §4.9 "bound
// evaluation"): the comparator's sign, combined with scan direction,
// decides continue vs. stop.
func (c *Cursor) inBounds(ctx context.Context, loc contract.TupLoc) bool {
	bound, has := c.opt.Upper, c.opt.HasUpper
	if !c.opt.Ascending {
		bound, has = c.opt.Lower, c.opt.HasLower
	}
	if !has {
		return true
	}
	pk, err := c.heap.ReadPK(ctx, c.opt.Frag, loc)
	if err != nil {
		return false
	}
	key := []compare.AttrValue{{Bytes: pk}}
	cmp := compare.CompareBound(c.opt.Spec, key, bound)
	if c.opt.Ascending {
		return cmp <= 0
	}
	return cmp >= 0
}

// rowHash derives the lock-manager's row key from rowid's primary key
// bytes, per spec.md §4.9 "identified by a hash of the primary key read
// from the heap".
func rowHash(pk []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(pk)
	return h.Sum64()
}

// lockCandidate attempts the row lock for c.pendingLoc (spec.md §4.9
// "Locking"): granted returns the row directly, blocked transitions to
// StateBlocked and the caller's Next loop will Wait on the next call,
// refused (row vanished) is reported to the caller as "not done" so it
// advances past this candidate.
func (c *Cursor) lockCandidate(ctx context.Context) (Row, bool, error) {
	loc, version := c.pendingLoc, c.pendingVersion
	if c.opt.ReadCommitted {
		c.lastLoc = loc
		return Row{Loc: loc, Version: version}, true, nil
	}

	pk, err := c.heap.ReadPK(ctx, c.opt.Frag, loc)
	if err != nil {
		return Row{}, false, err
	}
	key := contract.RowKey(c.opt.File, rowHash(pk))
	res, handle, err := c.locks.Acquire(ctx, c.opt.Locker, key, c.opt.LockMode, contract.LockFlagNone)
	if err != nil {
		return Row{}, false, err
	}
	switch res {
	case contract.LockGranted:
		c.heldScanLocks = append(c.heldScanLocks, handle)
		c.lastLoc = loc
		return Row{Loc: loc, Version: version, Lock: handle, Locked: true}, true, nil
	case contract.LockWait:
		c.lockWaitHandle = handle
		c.waiting = true
		if err := c.src.ParkScan(ctx, c.pos, c.scanID); err != nil {
			return Row{}, false, err
		}
		c.parked = true
		c.state = StateBlocked
		return Row{}, false, nil
	case contract.LockDeadlock:
		return Row{}, false, errkind.New("cursor.lockCandidate", errkind.Deadlock)
	default:
		// refused: row vanished between the visibility check and the lock
		// attempt; treat like a skip.
		return Row{}, false, nil
	}
}

// Close releases every held row lock, aborts-and-confirms any outstanding
// lock wait, and unparks the cursor from its node's scan list (spec.md
// §4.9 "Close / abort").
func (c *Cursor) Close(ctx context.Context) error {
	c.state = StateAborting
	var firstErr error
	if c.waiting {
		if err := c.locks.AbortWait(c.lockWaitHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		c.waiting = false
	}
	if c.parked {
		if err := c.src.UnparkScan(ctx, c.pos, c.scanID); err != nil && firstErr == nil {
			firstErr = err
		}
		c.parked = false
	}
	for _, h := range c.heldScanLocks {
		if err := c.locks.Release(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.heldScanLocks = nil
	return firstErr
}
