// Package btree implements the on-disk B+-tree access method (spec.md
// §4.6-§4.8): lock-coupled root-to-leaf descent, the last_insert_pgno
// fast-path hint, leaf split/reverse-split, and on/off-page duplicates.
// It is the disk counterpart to ttree/, sharing the compare/ comparator
// and the page/ codec, and talking to the outside world exclusively
// through contract.PageCache and contract.LockManager.
//
// Grounded on the teacher's filodb_btree.go (BTree.Insert/Get/Delete,
// nodeSplit3's "split until every piece fits" recursion) generalized from
// an in-memory byte-slice tree to a page-cache-backed one with real lock
// coupling, per original_source/storage/bdb/db/db_cam.c's ACQUIRE protocol
// and original_source/bdb/btree/bt_cursor.c's split/reverse-split shape.
package btree

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/sharvit-labs/ordidx/compare"
	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
	"github.com/sharvit-labs/ordidx/page"
)

// Options configures a Tree at Open time.
type Options struct {
	Spec   compare.KeySpec
	Cookie page.Cookie
	// ReverseSplit enables the reverse-split pass on physical delete
	// (spec.md §4.8); disabled it leaves emptied leaves linked in place.
	ReverseSplit bool
	// Sorted selects sorted (binary-search, reject-duplicate) vs.
	// unsorted (append-at-boundary) on-page duplicate handling for keys
	// that are not configured unique (spec.md §4.7 cases 2/3).
	Sorted bool
	Unique bool
}

// Tree is one B+-tree access method instance bound to a single page file.
// Its root page number is cached from the meta page and kept current by
// every operation that creates a new root.
type Tree struct {
	cache contract.PageCache
	locks contract.LockManager
	file  contract.FileID
	opt   Options

	root     atomic.Uint32 // contract.Pgno of the current root
	lastLeaf hint

	mu sync.Mutex // serializes root/meta page changes (new-root promotion)
}

// hint is the last_insert_pgno fast path (spec.md §4.6): read without a
// mutex, since a stale value is merely a missed optimization — the
// subsequent page-type and boundary checks reject any wrong hit.
type hint struct {
	pgno atomic.Uint32
}

func (h *hint) get() contract.Pgno { return contract.Pgno(h.pgno.Load()) }
func (h *hint) set(p contract.Pgno) { h.pgno.Store(uint32(p)) }

// Open reads file's meta page (page 0), bootstrapping a fresh empty leaf
// root and meta page if the file is new.
func Open(ctx context.Context, cache contract.PageCache, locks contract.LockManager, file contract.FileID, opt Options) (*Tree, error) {
	t := &Tree{cache: cache, locks: locks, file: file, opt: opt}

	buf, err := cache.Get(ctx, file, 0)
	if err != nil {
		return nil, errkind.Wrap("btree.Open", errkind.IOError, err)
	}
	if isZero(buf) {
		if err := t.bootstrap(ctx, buf); err != nil {
			_ = cache.Put(file, 0, false)
			return nil, err
		}
		return t, cache.Put(file, 0, true)
	}

	p, err := page.Decode(buf, opt.Cookie)
	if err != nil {
		_ = cache.Put(file, 0, false)
		return nil, err
	}
	meta, err := page.DecodeBTreeMeta(p)
	if err != nil {
		_ = cache.Put(file, 0, false)
		return nil, err
	}
	t.root.Store(uint32(meta.Root))
	return t, cache.Put(file, 0, false)
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// bootstrap writes the meta page and an empty leaf root into a brand-new
// file (spec.md §6 "page-file format").
func (t *Tree) bootstrap(ctx context.Context, metaBuf []byte) error {
	rootPgno, rootBuf, err := t.cache.Alloc(ctx, t.file)
	if err != nil {
		return errkind.Wrap("btree.bootstrap", errkind.IOError, err)
	}
	root := &page.Page{
		Header: page.Header{Pgno: rootPgno, Type: page.TypeLeafBTree},
		Cookie: t.opt.Cookie,
	}
	encoded, err := page.Encode(root, len(rootBuf))
	if err != nil {
		_ = t.cache.Put(t.file, rootPgno, false)
		return err
	}
	copy(rootBuf, encoded)
	if err := t.cache.Put(t.file, rootPgno, true); err != nil {
		return err
	}

	// UID stamps the file with a unique identifier independent of its path,
	// so a renamed or copied file can still be recognized (spec.md §6
	// page-file format's meta "uid" field).
	id := uuid.New()
	var uidField [20]byte
	copy(uidField[:], id[:])

	meta := page.EncodeBTreeMeta(page.BTreeMeta{
		PageSize: uint32(len(metaBuf)),
		LastPgno: rootPgno,
		Root:     rootPgno,
		UID:      uidField,
	})
	metaEncoded, err := page.Encode(meta, len(metaBuf))
	if err != nil {
		return err
	}
	copy(metaBuf, metaEncoded)
	t.root.Store(uint32(rootPgno))
	return nil
}

func (t *Tree) rootPgno() contract.Pgno { return contract.Pgno(t.root.Load()) }

// setRoot commits a newly promoted root page number to both the in-memory
// cache and the on-disk meta page (called with t.mu held).
func (t *Tree) setRoot(ctx context.Context, pgno contract.Pgno) error {
	metaBuf, err := t.cache.Get(ctx, t.file, 0)
	if err != nil {
		return errkind.Wrap("btree.setRoot", errkind.IOError, err)
	}
	p, err := page.Decode(metaBuf, t.opt.Cookie)
	if err != nil {
		_ = t.cache.Put(t.file, 0, false)
		return err
	}
	meta, err := page.DecodeBTreeMeta(p)
	if err != nil {
		_ = t.cache.Put(t.file, 0, false)
		return err
	}
	meta.Root = pgno
	encoded, err := page.Encode(page.EncodeBTreeMeta(meta), len(metaBuf))
	if err != nil {
		_ = t.cache.Put(t.file, 0, false)
		return err
	}
	copy(metaBuf, encoded)
	if err := t.cache.Put(t.file, 0, true); err != nil {
		return err
	}
	t.root.Store(uint32(pgno))
	return nil
}

// loadPage fetches and decodes pgno; the caller owns the pin until it
// calls t.cache.Put(file, pgno, dirty).
func (t *Tree) loadPage(ctx context.Context, pgno contract.Pgno) (*page.Page, []byte, error) {
	buf, err := t.cache.Get(ctx, t.file, pgno)
	if err != nil {
		return nil, nil, errkind.Wrap("btree.loadPage", errkind.IOError, err)
	}
	p, err := page.Decode(buf, t.opt.Cookie)
	if err != nil {
		_ = t.cache.Put(t.file, pgno, false)
		return nil, nil, err
	}
	return p, buf, nil
}

func (t *Tree) storePage(p *page.Page, buf []byte, pgno contract.Pgno, dirty bool) error {
	if dirty {
		encoded, err := page.Encode(p, len(buf))
		if err != nil {
			_ = t.cache.Put(t.file, pgno, false)
			return err
		}
		copy(buf, encoded)
	}
	return t.cache.Put(t.file, pgno, dirty)
}

func keyOf(e page.Entry, spec compare.KeySpec) []compare.AttrValue {
	return decodeCompositeKey(e.Key, spec)
}

// decodeCompositeKey splits a concatenated, length-prefixed key blob back
// into typed attribute values for the comparator. Fixed-size attributes
// have no length prefix (their size is known from spec); variable-size
// ones carry a 2-byte length prefix, matching EncodeCompositeKey's layout.
func decodeCompositeKey(buf []byte, spec compare.KeySpec) []compare.AttrValue {
	vals := make([]compare.AttrValue, 0, len(spec))
	off := 0
	for _, attr := range spec {
		if off >= len(buf)+1 {
			break
		}
		null := buf[off] != 0
		off++
		if null {
			// a null attribute is encoded as its flag byte alone.
			vals = append(vals, compare.AttrValue{Null: true})
			continue
		}
		size := attr.Size
		if size == 0 {
			size = int(buf[off])<<8 | int(buf[off+1])
			off += 2
		}
		var v compare.AttrValue
		if null {
			v = compare.AttrValue{Null: true}
		} else {
			v = compare.AttrValue{Bytes: buf[off : off+size]}
		}
		off += size
		vals = append(vals, v)
	}
	return vals
}

// EncodeCompositeKey packs vals into the wire form decodeCompositeKey
// reads back: a 1-byte null flag per attribute followed by its bytes
// (preceded by a 2-byte length for variable-size attributes).
func EncodeCompositeKey(spec compare.KeySpec, vals []compare.AttrValue) []byte {
	var buf []byte
	for i, attr := range spec {
		v := vals[i]
		if v.Null {
			buf = append(buf, 1)
			continue
		}
		buf = append(buf, 0)
		if attr.Size == 0 {
			n := len(v.Bytes)
			buf = append(buf, byte(n>>8), byte(n))
		}
		buf = append(buf, v.Bytes...)
	}
	return buf
}
