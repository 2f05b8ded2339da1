package page

import (
	"encoding/binary"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Magic identifies an ordidx page file (spec.md §6 page-file format).
const Magic = 0x4f524449 // "ORDI"

const uidSize = 20

// BTreeMeta is the type-specific tail of a btree-meta page (page 0):
// {magic, version, page_size, free_list_head, last_pgno, flags, uid}
// (spec.md §6). version/page_size live in the common meta prefix handled
// by Decode/Encode; this struct is the rest.
type BTreeMeta struct {
	Magic         uint32
	PageSize      uint32
	FreeListHead  contract.Pgno
	LastPgno      contract.Pgno
	Root          contract.Pgno
	Flags         uint32
	UID           [uidSize]byte
}

const btreeMetaSize = 4 + 4 + 4 + 4 + 4 + 4 + uidSize

func DecodeBTreeMeta(p *Page) (BTreeMeta, error) {
	if p.Type != TypeBTreeMeta {
		return BTreeMeta{}, errkind.New("page.DecodeBTreeMeta", errkind.UnknownType)
	}
	if len(p.raw) < btreeMetaSize {
		return BTreeMeta{}, errkind.New("page.DecodeBTreeMeta", errkind.PageFormat)
	}
	b := p.raw
	m := BTreeMeta{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		PageSize:     binary.LittleEndian.Uint32(b[4:8]),
		FreeListHead: contract.Pgno(binary.LittleEndian.Uint32(b[8:12])),
		LastPgno:     contract.Pgno(binary.LittleEndian.Uint32(b[12:16])),
		Root:         contract.Pgno(binary.LittleEndian.Uint32(b[16:20])),
		Flags:        binary.LittleEndian.Uint32(b[20:24]),
	}
	copy(m.UID[:], b[24:24+uidSize])
	if m.Magic != Magic {
		return BTreeMeta{}, errkind.New("page.DecodeBTreeMeta", errkind.PageFormat)
	}
	return m, nil
}

func EncodeBTreeMeta(m BTreeMeta) *Page {
	b := make([]byte, btreeMetaSize)
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	binary.LittleEndian.PutUint32(b[4:8], m.PageSize)
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.FreeListHead))
	binary.LittleEndian.PutUint32(b[12:16], uint32(m.LastPgno))
	binary.LittleEndian.PutUint32(b[16:20], uint32(m.Root))
	binary.LittleEndian.PutUint32(b[20:24], m.Flags)
	copy(b[24:24+uidSize], m.UID[:])
	return &Page{
		Header: Header{Type: TypeBTreeMeta, Pgno: 0},
		Cookie: Cookie{AccessMethod: AccessBTree},
		raw:    b,
	}
}
