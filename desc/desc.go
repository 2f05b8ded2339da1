// Package desc implements the descriptor store (spec.md §4.2): each
// index's typed metadata (KeySpec plus AttributeHeaders for reading from
// the heap) is packed into contiguous slices carved out of fixed-size
// descriptor pages by bump-pointer allocation. Free slots are reclaimed by
// compaction, which slides live entries down and reports the address
// fixups the caller (the Index record holding a (page,offset)) must apply.
package desc

import (
	"sort"

	"github.com/sharvit-labs/ordidx/errkind"
)

// WordSize is the unit descriptor pages are sized in; the default page is
// 512 words (spec.md §4.2 "512 words by default").
const WordSize = 8

// DefaultWords is the default descriptor page size in words.
const DefaultWords = 512

// Addr is a descriptor's location: a page id plus a byte offset within it.
// Index records store an Addr for their packed KeySpec buffer.
type Addr struct {
	Page   uint32
	Offset uint32
}

type liveEntry struct {
	offset uint32
	size   uint32
	owner  uint64 // opaque caller-supplied id, fixed up on compaction
}

// Page is one fixed-size descriptor page: a byte buffer plus the bump
// pointer and live-entry table needed to compact it.
type Page struct {
	id    uint32
	bytes []byte
	used  uint32 // bump pointer: next free byte
	live  []liveEntry
}

func newPage(id uint32, words int) *Page {
	return &Page{id: id, bytes: make([]byte, words*WordSize)}
}

func (p *Page) capacity() uint32 { return uint32(len(p.bytes)) }

func (p *Page) freeWords() uint32 {
	liveBytes := uint32(0)
	for _, e := range p.live {
		liveBytes += e.size
	}
	return (p.capacity() - liveBytes) / WordSize
}

// Store manages a pool of descriptor pages. It never spans an allocation
// across pages.
type Store struct {
	words int
	pages []*Page
}

func NewStore(words int) *Store {
	if words <= 0 {
		words = DefaultWords
	}
	return &Store{words: words}
}

// Alloc bump-allocates size bytes tagged with owner (an opaque id the
// caller uses to apply compaction fixups later) into the first page with
// room, or a freshly added page.
func (s *Store) Alloc(owner uint64, data []byte) (Addr, error) {
	size := wordAlign(uint32(len(data)))
	if size == 0 || size > uint32(s.words*WordSize) {
		return Addr{}, errkind.New("desc.Alloc", errkind.InvalidAttr)
	}
	for _, p := range s.pages {
		if p.used+size <= p.capacity() {
			return s.allocInto(p, owner, data), nil
		}
	}
	p := newPage(uint32(len(s.pages)), s.words)
	s.pages = append(s.pages, p)
	return s.allocInto(p, owner, data), nil
}

func (s *Store) allocInto(p *Page, owner uint64, data []byte) Addr {
	off := p.used
	size := wordAlign(uint32(len(data)))
	copy(p.bytes[off:], data)
	p.used += size
	p.live = append(p.live, liveEntry{offset: off, size: size, owner: owner})
	return Addr{Page: p.id, Offset: off}
}

// wordAlign rounds n bytes up to a whole number of words.
func wordAlign(n uint32) uint32 { return (n + WordSize - 1) / WordSize * WordSize }

// Read returns a copy of the bytes at addr.
func (s *Store) Read(addr Addr, size int) ([]byte, error) {
	p := s.page(addr.Page)
	if p == nil || int(addr.Offset)+size > len(p.bytes) {
		return nil, errkind.New("desc.Read", errkind.InvalidAttr)
	}
	out := make([]byte, size)
	copy(out, p.bytes[addr.Offset:int(addr.Offset)+size])
	return out, nil
}

// liveEntryAt finds the live entry at addr, if any.
func (p *Page) liveEntryAt(offset uint32) *liveEntry {
	for i := range p.live {
		if p.live[i].offset == offset {
			return &p.live[i]
		}
	}
	return nil
}

// ReadLive returns a copy of the live entry at addr without the caller
// having to track its size separately (used by callers, such as T-tree
// node storage, that address an allocation only by Addr).
func (s *Store) ReadLive(addr Addr) ([]byte, error) {
	p := s.page(addr.Page)
	if p == nil {
		return nil, errkind.New("desc.ReadLive", errkind.InvalidAttr)
	}
	e := p.liveEntryAt(addr.Offset)
	if e == nil {
		return nil, errkind.New("desc.ReadLive", errkind.NotFound)
	}
	out := make([]byte, e.size)
	copy(out, p.bytes[e.offset:e.offset+e.size])
	return out, nil
}

// WriteLive overwrites a live entry's bytes in place; len(data), rounded up
// to whole words, must match the entry's allocated size exactly.
func (s *Store) WriteLive(addr Addr, data []byte) error {
	p := s.page(addr.Page)
	if p == nil {
		return errkind.New("desc.WriteLive", errkind.InvalidAttr)
	}
	e := p.liveEntryAt(addr.Offset)
	if e == nil {
		return errkind.New("desc.WriteLive", errkind.NotFound)
	}
	if wordAlign(uint32(len(data))) != e.size {
		return errkind.New("desc.WriteLive", errkind.InvalidAttr)
	}
	copy(p.bytes[e.offset:e.offset+e.size], data)
	return nil
}

// Free marks the entry at addr as no longer live. The underlying bytes are
// only reclaimed on the next Compact of that page.
func (s *Store) Free(addr Addr) error {
	p := s.page(addr.Page)
	if p == nil {
		return errkind.New("desc.Free", errkind.InvalidAttr)
	}
	for i, e := range p.live {
		if e.offset == addr.Offset {
			p.live = append(p.live[:i], p.live[i+1:]...)
			return nil
		}
	}
	return errkind.New("desc.Free", errkind.NotFound)
}

// Relocation describes one live entry's address change during Compact.
type Relocation struct {
	Owner    uint64
	OldAddr  Addr
	NewAddr  Addr
}

// Compact slides every live entry in page pageID down to remove the gaps
// left by Free, rewriting both the page bytes and returning the fixups the
// caller must apply to every Index's embedded addr (spec.md §4.2:
// "compaction rewrites both the page and every Index's offset in
// lockstep, and fixes up each Index's embedded KeySpec buffer pointer").
func (s *Store) Compact(pageID uint32) ([]Relocation, error) {
	p := s.page(pageID)
	if p == nil {
		return nil, errkind.New("desc.Compact", errkind.InvalidAttr)
	}
	sort.Slice(p.live, func(i, j int) bool { return p.live[i].offset < p.live[j].offset })

	newBytes := make([]byte, len(p.bytes))
	var relocations []Relocation
	cursor := uint32(0)
	newLive := make([]liveEntry, 0, len(p.live))
	for _, e := range p.live {
		copy(newBytes[cursor:], p.bytes[e.offset:e.offset+e.size])
		if cursor != e.offset {
			relocations = append(relocations, Relocation{
				Owner:   e.owner,
				OldAddr: Addr{Page: pageID, Offset: e.offset},
				NewAddr: Addr{Page: pageID, Offset: cursor},
			})
		}
		newLive = append(newLive, liveEntry{offset: cursor, size: e.size, owner: e.owner})
		cursor += e.size
	}
	p.bytes = newBytes
	p.used = cursor
	p.live = newLive
	return relocations, nil
}

// FreeWords reports the current free space of pageID in words — used by
// property #9 (desc compaction): live-size sum == capacity - free_words*WordSize.
func (s *Store) FreeWords(pageID uint32) (uint32, error) {
	p := s.page(pageID)
	if p == nil {
		return 0, errkind.New("desc.FreeWords", errkind.InvalidAttr)
	}
	return p.freeWords(), nil
}

func (s *Store) LiveBytes(pageID uint32) (uint32, error) {
	p := s.page(pageID)
	if p == nil {
		return 0, errkind.New("desc.LiveBytes", errkind.InvalidAttr)
	}
	var total uint32
	for _, e := range p.live {
		total += e.size
	}
	return total, nil
}

func (s *Store) PageCapacity(pageID uint32) (uint32, error) {
	p := s.page(pageID)
	if p == nil {
		return 0, errkind.New("desc.PageCapacity", errkind.InvalidAttr)
	}
	return p.capacity(), nil
}

func (s *Store) page(id uint32) *Page {
	if int(id) >= len(s.pages) {
		return nil
	}
	return s.pages[id]
}
