package engine

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// SecondaryEntry describes one secondary index maintained off an Index's
// primary mutations (spec.md §4.10, SPEC_FULL.md §4.13).
//
// A TTree-backed secondary needs no Project: its comparator already reads
// the configured attributes straight from the heap via the primary row's
// TupLoc, so maintaining it is exactly inserting/removing that TupLoc.
// A BTree-backed secondary (a second on-disk fragment) does need an
// explicit projected key, stored alongside a caller-supplied back-
// reference (typically the primary key's encoded bytes) — the same shape
// as the teacher's indexOp, which computes an index key from selected
// columns and calls kvtx.Set/Delete with it.
type SecondaryEntry struct {
	Fragment *Fragment
	Project  func(key []compare.AttrValue, ref []byte) []compare.AttrValue
	// Unique rejects a non-unique insert at this secondary as
	// unique_violation. Sorted distinguishes a sorted-unique secondary
	// (rejects outright) from a non-unique non-sorted one, which instead
	// needs the existence check below before inserting.
	Unique bool
	Sorted bool
}

// SecondaryIndexSet holds the ordered list of secondaries an Index
// maintains on every Put/Delete (spec.md §4.10: "on primary update, the
// old secondary key is computed from the pre-image and deleted, then the
// new one inserted").
type SecondaryIndexSet struct {
	entries []SecondaryEntry
}

// NewSecondaryIndexSet builds an empty set; call Add to register each
// secondary before the owning Index starts taking writes.
func NewSecondaryIndexSet() *SecondaryIndexSet {
	return &SecondaryIndexSet{}
}

func (s *SecondaryIndexSet) Add(e SecondaryEntry) {
	s.entries = append(s.entries, e)
}

// MaintainAdd projects and inserts key/ref into every registered secondary
// after the primary insert has committed its log record (SPEC_FULL.md
// §4.13 "invoked from engine.Put/engine.Delete after the primary ...
// operation commits").
func (s *SecondaryIndexSet) MaintainAdd(ctx context.Context, locker contract.LockerID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, ref []byte) error {
	for _, e := range s.entries {
		if err := maintainOneAdd(ctx, e, locker, loc, version, key, ref); err != nil {
			return err
		}
	}
	return nil
}

func maintainOneAdd(ctx context.Context, e SecondaryEntry, locker contract.LockerID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, ref []byte) error {
	switch e.Fragment.Kind {
	case FragmentTTree:
		if err := e.Fragment.TTree.Insert(ctx, loc, version); err != nil {
			return err
		}
		e.Fragment.Counters.RecordInsert(0)
		return nil
	case FragmentBTree:
		skey := e.Project(key, ref)
		if !e.Unique && !e.Sorted {
			// existence check before insert avoids "duplicate duplicates"
			// that would later prevent correct delete propagation
			// (spec.md §4.10).
			if _, found, err := e.Fragment.BTree.Get(ctx, locker, skey); err != nil {
				return err
			} else if found {
				return nil
			}
		}
		if err := e.Fragment.BTree.Insert(ctx, locker, skey, ref); err != nil {
			if e.Unique {
				if kind, ok := errkind.Of(err); ok && kind == errkind.KeyExists {
					return errkind.Wrap("engine.secondary", errkind.UniqueViolation, err)
				}
			}
			return err
		}
		e.Fragment.Counters.RecordInsert(len(ref))
		return nil
	default:
		return errkind.New("engine.secondary", errkind.InvalidFlags)
	}
}

// MaintainDelete removes key/ref's secondary entries, the delete-side
// symmetric to MaintainAdd.
func (s *SecondaryIndexSet) MaintainDelete(ctx context.Context, locker contract.LockerID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, ref []byte) error {
	for _, e := range s.entries {
		if err := maintainOneDelete(ctx, e, locker, loc, version, key, ref); err != nil {
			return err
		}
	}
	return nil
}

func maintainOneDelete(ctx context.Context, e SecondaryEntry, locker contract.LockerID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, ref []byte) error {
	switch e.Fragment.Kind {
	case FragmentTTree:
		if err := e.Fragment.TTree.Delete(ctx, loc, version); err != nil {
			return err
		}
		e.Fragment.Counters.RecordDelete(0)
		return nil
	case FragmentBTree:
		skey := e.Project(key, ref)
		if err := e.Fragment.BTree.Delete(ctx, locker, skey, ref); err != nil {
			return err
		}
		e.Fragment.Counters.RecordDelete(len(ref))
		return nil
	default:
		return errkind.New("engine.secondary", errkind.InvalidFlags)
	}
}
