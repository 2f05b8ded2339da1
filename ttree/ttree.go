// Package ttree implements the in-memory T-tree index (spec.md §4.4, §4.5):
// an AVL-balanced tree of fixed-capacity nodes, each node holding several
// sorted entries, so most comparisons resolve against a cached node rather
// than walking to a leaf. Node storage is delegated to the heap (spec.md's
// external HeapStore collaborator): a node is a fixed-size record the tree
// addresses only by (page, offset), mirroring NDB's Dbtux where a TreeNode
// lives inside the fragment's own memory pages (Dbtux.hpp TreeNode/TreeEnt).
package ttree

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// side names a node's relation to its parent (Dbtux.hpp m_side: 0 left,
// 1 right, 2 root).
type side int8

const (
	sideLeft side = iota
	sideRight
	sideRoot
)

// balance is the AVL balance factor, -1/0/+1.
type balance int8

const (
	balLeft  balance = -1
	balEven  balance = 0
	balRight balance = 1
)

// entry is one sorted slot in a node: a pointer to a heap tuple plus the
// cursor ids currently parked on it (spec.md §4.5 "scan relink").
type entry struct {
	loc     contract.TupLoc
	version contract.TupleVersion
	scans   []uint64
}

// node is one T-tree node, decoded from its fixed-size heap record.
type node struct {
	self    contract.TupLoc
	parent  contract.TupLoc
	left    contract.TupLoc
	right   contract.TupLoc
	side    side
	bal     balance
	entries []entry
	pref    []byte // cached prefix of entries[0], prefAttrs attributes wide
}

func (n *node) occup() int { return len(n.entries) }
func (n *node) isLeaf() bool {
	return n.left.IsNull() && n.right.IsNull()
}
func (n *node) isSemiLeaf() bool {
	return (n.left.IsNull()) != (n.right.IsNull())
}

// Config parameterizes the tree: the key layout, node capacity, and how
// many leading attributes are cached as a node's min-prefix.
type Config struct {
	Spec      compare.KeySpec
	AttrIDs   []int // heap attribute indices making up Spec, in order
	MaxOccup  int   // spec.md §3.1 default 4
	MinOccup  int   // spec.md §3.1 default 2
	PrefAttrs int   // spec.md §3.1 default 1
}

// Tree is one fragment's T-tree index, backed by a HeapStore for node
// storage and a KeySpec-driven comparator for ordering.
type Tree struct {
	mu   sync.RWMutex
	cfg  Config
	heap contract.HeapStore
	frag contract.FragmentID

	root     contract.TupLoc
	freeSlot contract.TupLoc // pre-allocated spare node (spec.md §4.4)
	nodeSize int
}

func entrySize() int {
	// TupLoc(8) + version(4) + scanCount(2), scan ids follow variably but
	// are capped at maxParkedScans per entry to keep the record fixed-size.
	return 8 + 4 + 2 + maxParkedScans*8
}

const maxParkedScans = 4

func New(heap contract.HeapStore, frag contract.FragmentID, cfg Config) *Tree {
	if cfg.MaxOccup == 0 {
		cfg.MaxOccup = 4
	}
	if cfg.MinOccup == 0 {
		cfg.MinOccup = 2
	}
	if cfg.PrefAttrs == 0 {
		cfg.PrefAttrs = 1
	}
	headerSize := 8 + 8 + 1 + 1 + 1 + 2 // left + right + side + bal + occup + prefLen
	nodeSize := headerSize + cfg.MaxOccup*entrySize() + 32*cfg.PrefAttrs
	return &Tree{cfg: cfg, heap: heap, frag: frag, nodeSize: nodeSize}
}

// allocNode allocates a fresh, empty node record (spec.md §4.4 alloc_node).
func (t *Tree) allocNode(ctx context.Context) (contract.TupLoc, error) {
	loc, _, err := t.heap.AllocIndexNode(ctx, t.frag, t.nodeSize)
	if err != nil {
		return contract.NullTupLoc, err
	}
	n := &node{self: loc, side: sideRoot}
	if err := t.storeNode(ctx, n); err != nil {
		return contract.NullTupLoc, err
	}
	return loc, nil
}

// freeNode returns an empty node to the heap, refilling the pre-allocated
// spare slot first per spec.md §4.4.
func (t *Tree) freeNode(ctx context.Context, loc contract.TupLoc) error {
	if t.freeSlot.IsNull() {
		t.freeSlot = loc
		return nil
	}
	return t.heap.FreeIndexNode(ctx, t.frag, loc)
}

// ensureSpare tops up the pre-allocated spare node so a single insert that
// triggers at most one node split cannot fail partway for lack of memory.
func (t *Tree) ensureSpare(ctx context.Context) error {
	if !t.freeSlot.IsNull() {
		return nil
	}
	loc, err := t.allocNode(ctx)
	if err != nil {
		return err
	}
	t.freeSlot = loc
	return nil
}

// takeSpare consumes the pre-allocated spare node, replacing it.
func (t *Tree) takeSpare(ctx context.Context) (contract.TupLoc, error) {
	if t.freeSlot.IsNull() {
		if err := t.ensureSpare(ctx); err != nil {
			return contract.NullTupLoc, err
		}
	}
	loc := t.freeSlot
	t.freeSlot = contract.NullTupLoc
	return loc, nil
}

// selectNode resolves loc through the heap into a decoded node (spec.md
// §4.4 select_node); the result must not outlive the current operation.
func (t *Tree) selectNode(ctx context.Context, loc contract.TupLoc) (*node, error) {
	if loc.IsNull() {
		return nil, errkind.New("ttree.selectNode", errkind.NotFound)
	}
	buf, err := t.heap.LoadIndexNode(ctx, t.frag, loc)
	if err != nil {
		return nil, err
	}
	return decodeNode(loc, buf, t.cfg), nil
}

func (t *Tree) storeNode(ctx context.Context, n *node) error {
	buf := encodeNode(n, t.cfg, t.nodeSize)
	return t.heap.StoreIndexNode(ctx, t.frag, n.self, buf)
}

// keyOf reads the comparable attribute bytes for a node's entry i.
func (t *Tree) keyOf(ctx context.Context, e entry) ([]compare.AttrValue, error) {
	bufs := make([][]byte, len(t.cfg.AttrIDs))
	if err := t.heap.ReadKeyAttrs(ctx, t.frag, e.loc, e.version, t.cfg.AttrIDs, bufs); err != nil {
		return nil, err
	}
	vals := make([]compare.AttrValue, len(bufs))
	for i, b := range bufs {
		vals[i] = compare.AttrValue{Bytes: b, Null: b == nil}
	}
	return vals, nil
}

// setNodePref refills n's cached prefix from its entry 0 (spec.md §4.4
// set_node_pref), called after any change to the node's minimum.
func (t *Tree) setNodePref(ctx context.Context, n *node) error {
	if len(n.entries) == 0 {
		n.pref = nil
		return nil
	}
	vals, err := t.keyOf(ctx, n.entries[0])
	if err != nil {
		return err
	}
	k := t.cfg.PrefAttrs
	if k > len(vals) {
		k = len(vals)
	}
	var pref []byte
	for _, v := range vals[:k] {
		pref = appendPrefixAttr(pref, v)
	}
	n.pref = pref
	return nil
}

func appendPrefixAttr(dst []byte, v compare.AttrValue) []byte {
	var lenBuf [4]byte
	if v.Null {
		binary.LittleEndian.PutUint32(lenBuf[:], 0xffffffff)
		return append(dst, lenBuf[:]...)
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v.Bytes)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, v.Bytes...)
}

// Root reports whether the tree currently has any nodes.
func (t *Tree) Root() contract.TupLoc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}
