package memstore

import (
	"context"
	"sync"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/desc"
	"github.com/sharvit-labs/ordidx/errkind"
)

// row is one heap tuple as the reference heap stores it: the primary key,
// the full attribute list addressable by position, and enough version
// bookkeeping for a dirty-read/committed-read visibility check. A real heap
// store carries far more (undo chains, savepoint markers); spec.md treats
// HeapStore as an external collaborator and this exists only to give
// btree/ttree/cursor something to read rows from in tests.
type row struct {
	pk        []byte
	attrs     [][]byte
	version   contract.TupleVersion
	createdBy contract.TxnID
	committed bool
	deleted   bool
}

type fragHeap struct {
	mu       sync.RWMutex
	rows     map[contract.TupLoc]*row
	nextSlot uint32
	nodes    *desc.Store
}

// Heap is a contract.HeapStore reference implementation, one fragHeap per
// fragment. T-tree index-node storage is delegated to desc.Store, reusing
// its bump-pointer/compaction allocator rather than inventing a second one.
type Heap struct {
	mu    sync.Mutex
	frags map[contract.FragmentID]*fragHeap
}

func NewHeap() *Heap {
	return &Heap{frags: map[contract.FragmentID]*fragHeap{}}
}

func (h *Heap) frag(id contract.FragmentID) *fragHeap {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.frags[id]
	if !ok {
		f = &fragHeap{
			rows:  map[contract.TupLoc]*row{},
			nodes: desc.NewStore(desc.DefaultWords),
		}
		h.frags[id] = f
	}
	return f
}

// PutRow seeds a fixture row for tests and returns its location; it is not
// part of the contract.HeapStore interface, which is read/alloc-only from
// the index's point of view.
func (h *Heap) PutRow(frag contract.FragmentID, pk []byte, attrs [][]byte, version contract.TupleVersion, txn contract.TxnID, committed bool) contract.TupLoc {
	f := h.frag(frag)
	f.mu.Lock()
	defer f.mu.Unlock()
	loc := contract.TupLoc{PageID: 0, Offset: f.nextSlot}
	f.nextSlot++
	f.rows[loc] = &row{pk: pk, attrs: attrs, version: version, createdBy: txn, committed: committed}
	return loc
}

func (h *Heap) MarkCommitted(frag contract.FragmentID, loc contract.TupLoc) {
	f := h.frag(frag)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[loc]; ok {
		r.committed = true
	}
}

func (h *Heap) MarkDeleted(frag contract.FragmentID, loc contract.TupLoc) {
	f := h.frag(frag)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[loc]; ok {
		r.deleted = true
	}
}

func (h *Heap) ReadKeyAttrs(_ context.Context, frag contract.FragmentID, rowid contract.TupLoc, version contract.TupleVersion, attrIDs []int, out [][]byte) error {
	f := h.frag(frag)
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rows[rowid]
	if !ok {
		return errkind.New("memstore.Heap.ReadKeyAttrs", errkind.NotFound)
	}
	if len(attrIDs) != len(out) {
		return errkind.New("memstore.Heap.ReadKeyAttrs", errkind.InvalidFlags)
	}
	for i, attrID := range attrIDs {
		if attrID < 0 || attrID >= len(r.attrs) {
			return errkind.New("memstore.Heap.ReadKeyAttrs", errkind.InvalidAttr)
		}
		out[i] = r.attrs[attrID]
	}
	return nil
}

func (h *Heap) ReadPK(_ context.Context, frag contract.FragmentID, rowid contract.TupLoc) ([]byte, error) {
	f := h.frag(frag)
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rows[rowid]
	if !ok {
		return nil, errkind.New("memstore.Heap.ReadPK", errkind.NotFound)
	}
	return r.pk, nil
}

// Visible implements read-committed/dirty-read semantics: a dirty reader
// sees any non-deleted row regardless of commit state; a committed reader
// only sees rows created by its own transaction or already committed by
// another. No savepoint filtering is applied: the savepoint argument is
// ignored, since the reference heap has no undo chain to walk.
func (h *Heap) Visible(_ context.Context, frag contract.FragmentID, rowid contract.TupLoc, _ contract.TupleVersion, txn contract.TxnID, dirty bool, _ contract.SavepointID) bool {
	f := h.frag(frag)
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.rows[rowid]
	if !ok || r.deleted {
		return false
	}
	if dirty {
		return true
	}
	return r.committed || r.createdBy == txn
}

func (h *Heap) AllocIndexNode(_ context.Context, frag contract.FragmentID, size int) (contract.TupLoc, []byte, error) {
	f := h.frag(frag)
	addr, err := f.nodes.Alloc(uint64(frag), make([]byte, size))
	if err != nil {
		return contract.NullTupLoc, nil, err
	}
	loc := contract.TupLoc{PageID: contract.Pgno(addr.Page), Offset: addr.Offset}
	buf, err := f.nodes.Read(addr, size)
	if err != nil {
		return contract.NullTupLoc, nil, err
	}
	return loc, buf, nil
}

func (h *Heap) FreeIndexNode(_ context.Context, frag contract.FragmentID, loc contract.TupLoc) error {
	f := h.frag(frag)
	return f.nodes.Free(desc.Addr{Page: uint32(loc.PageID), Offset: loc.Offset})
}

func (h *Heap) LoadIndexNode(_ context.Context, frag contract.FragmentID, loc contract.TupLoc) ([]byte, error) {
	f := h.frag(frag)
	// size is not tracked by TupLoc alone; callers of LoadIndexNode in
	// this reference implementation always re-read the full live region,
	// discovered through the page's recorded entry.
	addr := desc.Addr{Page: uint32(loc.PageID), Offset: loc.Offset}
	return f.nodes.ReadLive(addr)
}

func (h *Heap) StoreIndexNode(_ context.Context, frag contract.FragmentID, loc contract.TupLoc, data []byte) error {
	f := h.frag(frag)
	addr := desc.Addr{Page: uint32(loc.PageID), Offset: loc.Offset}
	return f.nodes.WriteLive(addr, data)
}
