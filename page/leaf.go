package page

import (
	"encoding/binary"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Leaf entry slot: a 2-byte payload offset per entry, growing up from
// HeaderSize. The payload record at that offset starts with one flags byte
// (bit7 = pending-delete, bits0-6 = EntryKind) followed by the kind-specific
// body (spec.md §3 "Entry").
//
// Implementation note: this codec stores each leaf entry's payload
// independently, even for on-page duplicate runs that share a key. The
// source format physically shares one key-data record across several
// duplicate slots and swaps it once during pg_in; reproducing that exact
// byte-sharing is BDB-internal key-compression detail orthogonal to the
// tree algorithms this module exists to demonstrate, so it is not
// reproduced.
const slotSize = 2

func decodeLeafEntries(buf []byte, h Header) ([]Entry, error) {
	entries := make([]Entry, 0, h.NumEntries)
	for i := 0; i < int(h.NumEntries); i++ {
		slotPos := HeaderSize + i*slotSize
		off := binary.LittleEndian.Uint16(buf[slotPos : slotPos+2])
		if int(off) >= len(buf) {
			return nil, errkind.New("page.decodeLeafEntries", errkind.PageFormat)
		}
		e, err := decodeLeafPayload(buf[off:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeLeafPayload(buf []byte) (Entry, error) {
	if len(buf) < 1 {
		return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
	}
	flags := buf[0]
	e := Entry{
		PendingDelete: flags&0x80 != 0,
		Kind:          EntryKind(flags & 0x7f),
	}
	body := buf[1:]
	switch e.Kind {
	case EntryKeyData:
		if len(body) < 4 {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		keyLen := binary.LittleEndian.Uint16(body[0:2])
		valLen := binary.LittleEndian.Uint16(body[2:4])
		rest := body[4:]
		if len(rest) < int(keyLen)+int(valLen) {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		e.Key = append([]byte(nil), rest[:keyLen]...)
		e.Val = append([]byte(nil), rest[keyLen:keyLen+valLen]...)
	case EntryOverflow:
		if len(body) < 10 {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		keyLen := binary.LittleEndian.Uint16(body[0:2])
		pgno := binary.LittleEndian.Uint32(body[2:6])
		total := binary.LittleEndian.Uint32(body[6:10])
		rest := body[10:]
		if len(rest) < int(keyLen) {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		e.Key = append([]byte(nil), rest[:keyLen]...)
		e.OverflowPgno = contract.Pgno(pgno)
		e.OverflowLen = total
	case EntryDuplicate:
		if len(body) < 6 {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		keyLen := binary.LittleEndian.Uint16(body[0:2])
		pgno := binary.LittleEndian.Uint32(body[2:6])
		rest := body[6:]
		if len(rest) < int(keyLen) {
			return Entry{}, errkind.New("page.decodeLeafPayload", errkind.PageFormat)
		}
		e.Key = append([]byte(nil), rest[:keyLen]...)
		e.DupPgno = contract.Pgno(pgno)
	default:
		return Entry{}, errkind.New("page.decodeLeafPayload", errkind.UnknownType)
	}
	return e, nil
}

func leafPayloadSize(e Entry) int {
	switch e.Kind {
	case EntryKeyData:
		return 1 + 4 + len(e.Key) + len(e.Val)
	case EntryOverflow:
		return 1 + 10 + len(e.Key)
	case EntryDuplicate:
		return 1 + 6 + len(e.Key)
	default:
		return 0
	}
}

func encodeLeafPayload(buf []byte, e Entry) {
	flags := byte(e.Kind)
	if e.PendingDelete {
		flags |= 0x80
	}
	buf[0] = flags
	body := buf[1:]
	switch e.Kind {
	case EntryKeyData:
		binary.LittleEndian.PutUint16(body[0:2], uint16(len(e.Key)))
		binary.LittleEndian.PutUint16(body[2:4], uint16(len(e.Val)))
		n := copy(body[4:], e.Key)
		copy(body[4+n:], e.Val)
	case EntryOverflow:
		binary.LittleEndian.PutUint16(body[0:2], uint16(len(e.Key)))
		binary.LittleEndian.PutUint32(body[2:6], uint32(e.OverflowPgno))
		binary.LittleEndian.PutUint32(body[6:10], e.OverflowLen)
		copy(body[10:], e.Key)
	case EntryDuplicate:
		binary.LittleEndian.PutUint16(body[0:2], uint16(len(e.Key)))
		binary.LittleEndian.PutUint32(body[2:6], uint32(e.DupPgno))
		copy(body[6:], e.Key)
	}
}

func encodeLeafEntries(buf []byte, p *Page) error {
	pageSize := len(buf)
	payloadEnd := pageSize
	for i, e := range p.entries {
		size := leafPayloadSize(e)
		payloadEnd -= size
		if payloadEnd < HeaderSize+len(p.entries)*slotSize {
			return errkind.New("page.encodeLeafEntries", errkind.NeedsSplit)
		}
		encodeLeafPayload(buf[payloadEnd:payloadEnd+size], e)
		slotPos := HeaderSize + i*slotSize
		binary.LittleEndian.PutUint16(buf[slotPos:slotPos+2], uint16(payloadEnd))
	}
	p.FreeOffset = uint16(payloadEnd)
	return nil
}

// Internal page entries carry a child pointer plus the separator key
// propagated up from a split (spec.md §4.7); no value, no duplicate/
// overflow distinction.
func decodeInternalEntries(buf []byte, h Header) ([]Entry, error) {
	entries := make([]Entry, 0, h.NumEntries)
	for i := 0; i < int(h.NumEntries); i++ {
		slotPos := HeaderSize + i*slotSize
		off := binary.LittleEndian.Uint16(buf[slotPos : slotPos+2])
		if int(off)+6 > len(buf) {
			return nil, errkind.New("page.decodeInternalEntries", errkind.PageFormat)
		}
		body := buf[off:]
		pgno := binary.LittleEndian.Uint32(body[0:4])
		keyLen := binary.LittleEndian.Uint16(body[4:6])
		rest := body[6:]
		if len(rest) < int(keyLen) {
			return nil, errkind.New("page.decodeInternalEntries", errkind.PageFormat)
		}
		entries = append(entries, Entry{
			Kind:    EntryKeyData,
			DupPgno: contract.Pgno(pgno), // reused as the child pointer
			Key:     append([]byte(nil), rest[:keyLen]...),
		})
	}
	return entries, nil
}

func encodeInternalEntries(buf []byte, p *Page) error {
	pageSize := len(buf)
	payloadEnd := pageSize
	for i, e := range p.entries {
		size := 6 + len(e.Key)
		payloadEnd -= size
		if payloadEnd < HeaderSize+len(p.entries)*slotSize {
			return errkind.New("page.encodeInternalEntries", errkind.NeedsSplit)
		}
		body := buf[payloadEnd : payloadEnd+size]
		binary.LittleEndian.PutUint32(body[0:4], uint32(e.DupPgno))
		binary.LittleEndian.PutUint16(body[4:6], uint16(len(e.Key)))
		copy(body[6:], e.Key)
		slotPos := HeaderSize + i*slotSize
		binary.LittleEndian.PutUint16(buf[slotPos:slotPos+2], uint16(payloadEnd))
	}
	p.FreeOffset = uint16(payloadEnd)
	return nil
}

// ChildPtr returns the child page number of an internal entry.
func (e Entry) ChildPtr() contract.Pgno { return e.DupPgno }
