package engine

import (
	"context"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/stats"
)

// Put inserts key/val into fragID's primary B-tree and drives idx's
// secondary-index maintenance (spec.md §6 cursor.put, §4.10). loc/version
// identify the already-written heap row key/val describes, so that
// T-tree-backed secondaries can index it directly.
func (env *Environment) Put(ctx context.Context, idx *Index, fragID contract.FragmentID, locker contract.LockerID, txn contract.TxnID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, val []byte) error {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return err
	}
	if frag.Kind != FragmentBTree {
		return errkind.New("engine.Put", errkind.InvalidFlags)
	}
	if err := frag.BTree.Insert(ctx, locker, key, val); err != nil {
		return err
	}
	frag.Counters.RecordInsert(len(val))

	if env.WAL != nil {
		if _, err := env.WAL.LogRecord(txn, "engine_put", 0, val); err != nil {
			return errkind.Wrap("engine.Put", errkind.IOError, err)
		}
	}

	if idx.Secondary != nil {
		if err := idx.Secondary.MaintainAdd(ctx, locker, loc, version, key, val); err != nil {
			return err
		}
	}
	return nil
}

// Delete logically removes key from fragID's primary B-tree (spec.md §6
// cursor.del) and propagates the delete to idx's secondaries.
func (env *Environment) Delete(ctx context.Context, idx *Index, fragID contract.FragmentID, locker contract.LockerID, txn contract.TxnID, loc contract.TupLoc, version contract.TupleVersion, key []compare.AttrValue, val []byte) error {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return err
	}
	if frag.Kind != FragmentBTree {
		return errkind.New("engine.Delete", errkind.InvalidFlags)
	}
	if err := frag.BTree.Delete(ctx, locker, key, val); err != nil {
		return err
	}
	frag.Counters.RecordDelete(len(val))

	if env.WAL != nil {
		if _, err := env.WAL.LogRecord(txn, "engine_delete", 0, val); err != nil {
			return errkind.Wrap("engine.Delete", errkind.IOError, err)
		}
	}

	if idx.Secondary != nil {
		if err := idx.Secondary.MaintainDelete(ctx, locker, loc, version, key, val); err != nil {
			return err
		}
	}
	return nil
}

// Get reads key from fragID's primary B-tree (spec.md §6 cursor.get with
// flag "set").
func (env *Environment) Get(ctx context.Context, idx *Index, fragID contract.FragmentID, locker contract.LockerID, key []compare.AttrValue) ([]byte, bool, error) {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return nil, false, err
	}
	if frag.Kind != FragmentBTree {
		return nil, false, errkind.New("engine.Get", errkind.InvalidFlags)
	}
	return frag.BTree.Get(ctx, locker, key)
}

// Sync forces fragID's durable fragment to stable storage (spec.md §6
// sync).
func (env *Environment) Sync(ctx context.Context, idx *Index, fragID contract.FragmentID, file contract.FileID) error {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return err
	}
	if frag.Kind != FragmentBTree {
		return nil
	}
	return env.Cache.Fsync(ctx, file)
}

// Stat reports fragID's counter snapshot (spec.md §6 stat/dbinfo).
func (env *Environment) Stat(idx *Index, fragID contract.FragmentID) (int64, int64, int64, error) {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return 0, 0, 0, err
	}
	return frag.Counters.EntryCount(), frag.Counters.EntryBytes(), frag.Counters.EntryOps(), nil
}

// StatsCounters exposes fragID's Counters for use with stats.Monitor or
// stats.RecordsInRange, without leaking the Fragment type further than
// necessary.
func (env *Environment) StatsCounters(idx *Index, fragID contract.FragmentID) (*stats.Counters, error) {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return nil, err
	}
	return frag.Counters, nil
}
