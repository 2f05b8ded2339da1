// Package page implements the on-disk page codec: pg_in/pg_out, the common
// page header, and the leaf/internal/overflow/meta page layouts (spec.md
// §4.1). Pages are exchanged with the page cache as raw bytes; this package
// is the only place that interprets them.
//
// Byte order note: unlike the C original — which memory-maps a page and
// reads its header fields through a struct overlay in the host's native
// byte order, requiring an explicit swap pass when that order doesn't match
// the wire format — Go never punches a struct onto raw bytes. Every field
// access here already names its byte order via encoding/binary, so pg_in
// and pg_out always decode/encode against one fixed wire order
// (LittleEndian). The "swap header first, then per-type entries, exactly
// once per shared offset" structure from spec.md §4.1 is preserved as the
// shape of Decode/Encode below even though there is no separate in-place
// byte-flip step to perform.
package page

import (
	"encoding/binary"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Type identifies the page's role.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeLeafBTree
	TypeInternalBTree
	TypeLeafRecno
	TypeInternalRecno
	TypeLeafDuplicate
	TypeOverflow
	TypeBTreeMeta
	TypeHashMeta
	TypeQueueMeta
)

func (t Type) String() string {
	switch t {
	case TypeLeafBTree:
		return "leaf-btree"
	case TypeInternalBTree:
		return "internal-btree"
	case TypeLeafRecno:
		return "leaf-recno"
	case TypeInternalRecno:
		return "internal-recno"
	case TypeLeafDuplicate:
		return "leaf-duplicate"
	case TypeOverflow:
		return "overflow"
	case TypeBTreeMeta:
		return "btree-meta"
	case TypeHashMeta:
		return "hash-meta"
	case TypeQueueMeta:
		return "queue-meta"
	default:
		return "invalid"
	}
}

func (t Type) IsLeaf() bool {
	return t == TypeLeafBTree || t == TypeLeafRecno || t == TypeLeafDuplicate
}

func (t Type) IsInternal() bool {
	return t == TypeInternalBTree || t == TypeInternalRecno
}

func (t Type) IsMeta() bool {
	return t == TypeBTreeMeta || t == TypeHashMeta || t == TypeQueueMeta
}

// HeaderSize is the size in bytes of the common page header, present at
// offset 0 of every non-meta page.
const HeaderSize = 32

// Header is the common prefix of every data page: LSN, page number, link
// pointers, entry count and the free-space boundary (spec.md §3 "Page").
type Header struct {
	LSN        contract.LSN
	Pgno       contract.Pgno
	Prev       contract.Pgno
	Next       contract.Pgno
	NumEntries uint16
	FreeOffset uint16
	Type       Type
	Level      uint8
}

func decodeHeader(buf []byte) Header {
	return Header{
		LSN:        contract.LSN(binary.LittleEndian.Uint64(buf[0:8])),
		Pgno:       contract.Pgno(binary.LittleEndian.Uint32(buf[8:12])),
		Prev:       contract.Pgno(binary.LittleEndian.Uint32(buf[12:16])),
		Next:       contract.Pgno(binary.LittleEndian.Uint32(buf[16:20])),
		NumEntries: binary.LittleEndian.Uint16(buf[20:22]),
		FreeOffset: binary.LittleEndian.Uint16(buf[22:24]),
		Type:       Type(buf[24]),
		Level:      buf[25],
	}
}

func encodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Pgno))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Prev))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.Next))
	binary.LittleEndian.PutUint16(buf[20:22], h.NumEntries)
	binary.LittleEndian.PutUint16(buf[22:24], h.FreeOffset)
	buf[24] = byte(h.Type)
	buf[25] = h.Level
	buf[26], buf[27] = 0, 0
}

// EntryKind distinguishes the three leaf entry payload shapes (spec.md §3).
type EntryKind uint8

const (
	EntryKeyData EntryKind = iota
	EntryOverflow
	EntryDuplicate
)

// Entry is a decoded view of one leaf slot. PendingDelete is the
// "intent-to-delete" bit: the entry remains physically present until a
// cursor moves off it or closes (spec.md §3, §4.8).
type Entry struct {
	Kind          EntryKind
	PendingDelete bool
	Key           []byte
	Val           []byte   // EntryKeyData only
	OverflowPgno  contract.Pgno
	OverflowLen   uint32 // EntryOverflow only
	DupPgno       contract.Pgno // EntryDuplicate only
}

// Page is the decoded, mutable form of a page buffer used by btree/ttree.
// AccessOffsets are into the underlying payload region and are only valid
// until the next mutation of the same Page.
type Page struct {
	Header
	Cookie  Cookie
	entries []Entry
	// raw holds the undecoded trailing bytes for page types this package
	// does not interpret further at this layer (meta pages' type-specific
	// tail, overflow chain payloads).
	raw []byte
}

func (p *Page) NumSlots() int   { return len(p.entries) }
func (p *Page) Entry(i int) Entry { return p.entries[i] }
func (p *Page) SetEntry(i int, e Entry) { p.entries[i] = e }
func (p *Page) Entries() []Entry { return p.entries }
func (p *Page) Raw() []byte      { return p.raw }

func (p *Page) InsertEntry(i int, e Entry) {
	p.entries = append(p.entries, Entry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
	p.NumEntries = uint16(len(p.entries))
}

func (p *Page) RemoveEntry(i int) {
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	p.NumEntries = uint16(len(p.entries))
}

// Cookie identifies the access method and codec options for a page
// (spec.md §4.1: "identifies the access method ... and whether swap,
// checksum, or encryption applies").
type Cookie struct {
	AccessMethod AccessMethod
	Checksum     bool
	Encrypted    bool
	PageSize     int
}

type AccessMethod uint8

const (
	AccessBTree AccessMethod = iota
	AccessHash
	AccessQueue
)

// MetaVersion is the current on-disk meta page version this codec writes
// and the oldest version Upgrade knows how to convert from.
const MetaVersion = 8

// Decode runs pg_in: decode the common header, verify checksum if enabled,
// then dispatch to a per-type handler that decodes the entry array.
// Unknown page types yield errkind.UnknownType; unknown meta versions yield
// errkind.OldVersion so the caller can run an upgrade pass.
func Decode(buf []byte, cookie Cookie) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, errkind.New("page.Decode", errkind.PageFormat)
	}
	h := decodeHeader(buf)
	if cookie.Checksum {
		if !verifyChecksum(buf) {
			return nil, errkind.New("page.Decode", errkind.PageFormat)
		}
	}
	p := &Page{Header: h, Cookie: cookie}
	switch h.Type {
	case TypeLeafBTree, TypeLeafRecno, TypeLeafDuplicate:
		entries, err := decodeLeafEntries(buf, h)
		if err != nil {
			return nil, err
		}
		p.entries = entries
	case TypeInternalBTree, TypeInternalRecno:
		entries, err := decodeInternalEntries(buf, h)
		if err != nil {
			return nil, err
		}
		p.entries = entries
	case TypeOverflow:
		p.raw = append([]byte(nil), buf[HeaderSize:]...)
	case TypeBTreeMeta, TypeHashMeta, TypeQueueMeta:
		version := binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+4])
		if version > MetaVersion {
			return nil, errkind.New("page.Decode", errkind.OldVersion)
		}
		if version < MetaVersion {
			return nil, errkind.New("page.Decode", errkind.OldVersion)
		}
		p.raw = append([]byte(nil), buf[HeaderSize+4:]...)
	default:
		return nil, errkind.New("page.Decode", errkind.UnknownType)
	}
	return p, nil
}

// Encode runs pg_out: the inverse of Decode, entries first and header last
// so the final written representation is self-contained (spec.md §4.1).
func Encode(p *Page, pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	var err error
	switch p.Type {
	case TypeLeafBTree, TypeLeafRecno, TypeLeafDuplicate:
		err = encodeLeafEntries(buf, p)
	case TypeInternalBTree, TypeInternalRecno:
		err = encodeInternalEntries(buf, p)
	case TypeOverflow:
		copy(buf[HeaderSize:], p.raw)
	case TypeBTreeMeta, TypeHashMeta, TypeQueueMeta:
		binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], MetaVersion)
		copy(buf[HeaderSize+4:], p.raw)
	default:
		return nil, errkind.New("page.Encode", errkind.UnknownType)
	}
	if err != nil {
		return nil, err
	}
	p.NumEntries = uint16(len(p.entries))
	encodeHeader(buf, p.Header)
	if p.Cookie.Checksum {
		writeChecksum(buf)
	}
	return buf, nil
}

// freeOffset computes the current boundary between the entry-slot array
// (growing up from the header) and the payload heap (growing down from the
// page end) — spec.md §3 invariant:
// free_offset >= header_size + num_entries*entry_size.
func freeOffset(numEntries int, pageSize int, payloadUsed int) uint16 {
	return uint16(pageSize - payloadUsed)
}
