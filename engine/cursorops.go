package engine

import (
	"context"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/cursor"
	"github.com/sharvit-labs/ordidx/errkind"
)

// OpenCursor opens a scan cursor against fragID (spec.md §6 cursor(txn,
// flags) → cursor). Only a TTree fragment can serve this today: the
// cursor.Source a B-tree scan would need is a documented open item
// (DESIGN.md "cursor/" — on-disk leaf-chain adapter not yet wired).
func (env *Environment) OpenCursor(ctx context.Context, idx *Index, fragID contract.FragmentID, opt cursor.Options) (*cursor.Cursor, error) {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return nil, err
	}
	src, ok := frag.Source()
	if !ok {
		return nil, errkind.New("engine.OpenCursor", errkind.InvalidFlags)
	}
	c, err := cursor.Open(ctx, src, env.Heap, env.Locks, opt)
	if err != nil {
		return nil, err
	}
	frag.activeCursors.Add(1)
	return c, nil
}

// CloseCursor closes c and accounts for fragID's active-cursor count.
func (env *Environment) CloseCursor(ctx context.Context, idx *Index, fragID contract.FragmentID, c *cursor.Cursor) error {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return err
	}
	defer frag.activeCursors.Add(-1)
	return c.Close(ctx)
}

// Truncate deletes every entry in fragID (spec.md §6 truncate(txn) →
// deleted_count). It refuses with invalid_flags if any cursor is still
// open against the fragment (errkind has no separate has_active_cursors
// kind), and refuses a B-tree fragment the same way. On a T-tree fragment
// it deletes the tree's first entry repeatedly until the tree is empty.
func (env *Environment) Truncate(ctx context.Context, idx *Index, fragID contract.FragmentID, locker contract.LockerID, txn contract.TxnID) (int, error) {
	frag, err := idx.fragment(fragID)
	if err != nil {
		return 0, err
	}
	if frag.activeCursors.Load() > 0 {
		return 0, errkind.New("engine.Truncate", errkind.InvalidFlags)
	}

	switch frag.Kind {
	case FragmentTTree:
		return env.truncateTTree(ctx, frag)
	case FragmentBTree:
		return 0, errkind.New("engine.Truncate", errkind.InvalidFlags)
	default:
		return 0, errkind.New("engine.Truncate", errkind.InvalidFlags)
	}
}

func (env *Environment) truncateTTree(ctx context.Context, frag *Fragment) (int, error) {
	deleted := 0
	for {
		pos, err := frag.TTree.First(ctx)
		if err != nil {
			if kind, ok := errkind.Of(err); ok && kind == errkind.NotFound {
				return deleted, nil
			}
			return deleted, err
		}
		loc, version, err := frag.TTree.Entry(ctx, pos)
		if err != nil {
			return deleted, err
		}
		if err := frag.TTree.Delete(ctx, loc, version); err != nil {
			return deleted, err
		}
		frag.Counters.RecordDelete(0)
		deleted++
	}
}
