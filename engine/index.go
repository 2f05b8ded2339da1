package engine

import (
	"context"
	"sync"

	"github.com/sharvit-labs/ordidx/btree"
	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
	"github.com/sharvit-labs/ordidx/stats"
	"github.com/sharvit-labs/ordidx/ttree"
)

// IndexState is an Index's lifecycle stage (spec.md §3 "Index").
type IndexState int

const (
	StateDefining IndexState = iota
	StateBuilding
	StateOnline
	StateDropping
	StateNotDefined
)

func (s IndexState) String() string {
	switch s {
	case StateDefining:
		return "defining"
	case StateBuilding:
		return "building"
	case StateOnline:
		return "online"
	case StateDropping:
		return "dropping"
	default:
		return "not_defined"
	}
}

// IndexFlags is the Index.flags attribute set (spec.md §3).
type IndexFlags struct {
	AllowDuplicates        bool
	SortedDuplicates       bool
	MaintainsRecordNumbers bool
	RenumberOnDelete       bool
	StoreNullKeys          bool
	InMemoryOnly           bool
	Checksum               bool
	Encrypted              bool
	SwapRequired           bool
}

// Index is a named ordered container of (key, rowid, version) tuples,
// sharded into Fragments (spec.md §3). Once State is StateOnline, Spec and
// PageSize are immutable (spec.md §3 invariant) — callers must not mutate
// idx.Spec after Online; this is enforced by convention (no setter is
// exposed), matching the teacher's TableDef being written once at create
// time and never mutated in place.
type Index struct {
	mu sync.RWMutex

	Name     string
	Spec     compare.KeySpec
	Flags    IndexFlags
	PageSize int
	State    IndexState

	Fragments map[contract.FragmentID]*Fragment
	// Secondary holds the indexes maintained off this Index's primary
	// mutations (spec.md §4.10, SPEC_FULL.md §4.13). Nil for an Index that
	// is itself a secondary (it is not, in turn, double-maintained).
	Secondary *SecondaryIndexSet
}

// CreateIndex defines and registers a new Index (spec.md §3 "defining" →
// "building" → "online"). A name collision is reported as KeyExists,
// matching the teacher's TableNew duplicate-name rejection.
func CreateIndex(env *Environment, name string, spec compare.KeySpec, flags IndexFlags, pageSize int) (*Index, error) {
	if _, exists := env.Index(name); exists {
		return nil, errkind.New("engine.CreateIndex", errkind.KeyExists)
	}
	idx := &Index{
		Name:      name,
		Spec:      spec,
		Flags:     flags,
		PageSize:  pageSize,
		State:     StateBuilding,
		Fragments: make(map[contract.FragmentID]*Fragment),
	}
	idx.State = StateOnline
	env.register(idx)
	return idx, nil
}

// Drop tears idx down: it may only be dropped explicitly (spec.md §3
// "destroyed only via explicit drop or on table drop") — there is no
// implicit eviction.
func (idx *Index) Drop(env *Environment) {
	idx.mu.Lock()
	idx.State = StateDropping
	idx.mu.Unlock()
	env.unregister(idx.Name)
	idx.mu.Lock()
	idx.State = StateNotDefined
	idx.mu.Unlock()
}

// OpenFragment opens (or, on a fresh file, bootstraps) fragID, choosing a
// btree.Tree for a durable fragment or a ttree.Tree for one flagged
// InMemoryOnly (spec.md §2: "a disk-paged ... B-tree plus an in-memory
// T-tree fragment index"). file is only consulted for disk fragments.
func (idx *Index) OpenFragment(ctx context.Context, env *Environment, fragID contract.FragmentID, file contract.FileID) (*Fragment, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if f, ok := idx.Fragments[fragID]; ok {
		return f, nil
	}

	counters := stats.NewCounters(fragID)
	var frag *Fragment
	if idx.Flags.InMemoryOnly {
		tree := ttree.New(env.Heap, fragID, ttree.Config{
			Spec:      idx.Spec,
			AttrIDs:   identityAttrIDs(len(idx.Spec)),
			PrefAttrs: 1,
		})
		frag = &Fragment{ID: fragID, Kind: FragmentTTree, TTree: tree, Counters: counters}
	} else {
		tree, err := btree.Open(ctx, env.Cache, env.Locks, file, btree.Options{
			Spec:         idx.Spec,
			Cookie:       page.Cookie{AccessMethod: page.AccessBTree, Checksum: idx.Flags.Checksum, PageSize: idx.PageSize},
			ReverseSplit: true,
			Sorted:       idx.Flags.SortedDuplicates,
			Unique:       !idx.Flags.AllowDuplicates,
		})
		if err != nil {
			return nil, err
		}
		frag = &Fragment{ID: fragID, Kind: FragmentBTree, BTree: tree, Counters: counters}
	}

	idx.Fragments[fragID] = frag
	return frag, nil
}

// fragment looks up a previously opened fragment.
func (idx *Index) fragment(fragID contract.FragmentID) (*Fragment, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.Fragments[fragID]
	if !ok {
		return nil, errkind.New("engine.fragment", errkind.NotFound)
	}
	return f, nil
}

// identityAttrIDs builds the [0..n) attribute-id slice used when an
// in-memory fragment's KeySpec already matches the heap's own attribute
// order one-to-one (the common case for a fragment built directly over a
// table's row attributes).
func identityAttrIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}
