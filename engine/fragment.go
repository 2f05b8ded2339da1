package engine

import (
	"sync/atomic"

	"github.com/sharvit-labs/ordidx/btree"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/stats"
	"github.com/sharvit-labs/ordidx/ttree"
)

// FragmentKind distinguishes a Fragment's backing tree (spec.md §2
// components 1 and 2).
type FragmentKind int

const (
	FragmentBTree FragmentKind = iota
	FragmentTTree
)

// Fragment is one shard of an Index (spec.md §3 "Fragment"): a single
// B-tree or T-tree instance plus its entry counters. entry_count/
// entry_bytes/entry_ops live in Counters rather than duplicated fields
// here; last_insert_page_hint is internal to btree.Tree; pre_allocated_
// free_node is internal to ttree.Tree; scan_list membership is tracked by
// cursor.Cursor/ttree.Tree themselves rather than mirrored on Fragment.
type Fragment struct {
	ID    contract.FragmentID
	Kind  FragmentKind
	BTree *btree.Tree
	TTree *ttree.Tree

	Counters *stats.Counters

	// activeCursors counts open cursors against this fragment, so Truncate
	// can refuse (with invalid_flags) rather than yanking rows out from
	// under a live scan.
	activeCursors atomic.Int32
}

// Source returns the fragment's scan source for cursor.Open, satisfying
// cursor.Source. Only a TTree fragment can serve this directly today — an
// on-disk B-tree leaf-chain adapter is a documented open item (DESIGN.md).
func (f *Fragment) Source() (*ttree.Tree, bool) {
	if f.Kind == FragmentTTree {
		return f.TTree, true
	}
	return nil, false
}
