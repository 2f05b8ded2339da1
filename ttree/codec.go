package ttree

import (
	"encoding/binary"

	"github.com/sharvit-labs/ordidx/contract"
)

// Node wire layout: [left 8][right 8][side 1][bal 1][occup 1][prefLen 2]
// [pref bytes, fixed prefBytes wide][entries...], where each entry is
// [TupLoc 8][version 4][scanCount 2][scan ids, maxParkedScans*8].
//
// Grounded on Dbtux.hpp's TreeNode header (m_side/m_balance/m_occup packed
// bitfields, followed by the prefix and the entry array) — this codec
// spells the same fields out at byte granularity since Go has no bitfields.

func putLoc(buf []byte, o int, l contract.TupLoc) int {
	binary.LittleEndian.PutUint32(buf[o:], uint32(l.PageID))
	binary.LittleEndian.PutUint32(buf[o+4:], l.Offset)
	return o + 8
}

func getLoc(buf []byte, o int) (contract.TupLoc, int) {
	l := contract.TupLoc{
		PageID: contract.Pgno(binary.LittleEndian.Uint32(buf[o:])),
		Offset: binary.LittleEndian.Uint32(buf[o+4:]),
	}
	return l, o + 8
}

func prefBytes(cfg Config) int { return 32 * cfg.PrefAttrs }

func encodeNode(n *node, cfg Config, size int) []byte {
	buf := make([]byte, size)
	o := 0
	o = putLoc(buf, o, n.left)
	o = putLoc(buf, o, n.right)
	buf[o] = byte(n.side)
	o++
	buf[o] = byte(n.bal)
	o++
	buf[o] = byte(len(n.entries))
	o++
	binary.LittleEndian.PutUint16(buf[o:], uint16(len(n.pref)))
	o += 2
	copy(buf[o:o+prefBytes(cfg)], n.pref)
	o += prefBytes(cfg)

	for _, e := range n.entries {
		o = putLoc(buf, o, e.loc)
		binary.LittleEndian.PutUint32(buf[o:], uint32(e.version))
		o += 4
		binary.LittleEndian.PutUint16(buf[o:], uint16(len(e.scans)))
		o += 2
		for i := 0; i < maxParkedScans; i++ {
			if i < len(e.scans) {
				binary.LittleEndian.PutUint64(buf[o:], e.scans[i])
			}
			o += 8
		}
	}
	return buf
}

func decodeNode(self contract.TupLoc, buf []byte, cfg Config) *node {
	o := 0
	n := &node{self: self}
	n.left, o = getLoc(buf, o)
	n.right, o = getLoc(buf, o)
	n.side = side(buf[o])
	o++
	n.bal = balance(int8(buf[o]))
	o++
	occup := int(buf[o])
	o++
	prefLen := int(binary.LittleEndian.Uint16(buf[o:]))
	o += 2
	if prefLen > 0 {
		n.pref = append([]byte(nil), buf[o:o+prefLen]...)
	}
	o += prefBytes(cfg)

	n.entries = make([]entry, occup)
	for i := 0; i < occup; i++ {
		var e entry
		e.loc, o = getLoc(buf, o)
		e.version = contract.TupleVersion(binary.LittleEndian.Uint32(buf[o:]))
		o += 4
		scanCount := int(binary.LittleEndian.Uint16(buf[o:]))
		o += 2
		for j := 0; j < maxParkedScans; j++ {
			id := binary.LittleEndian.Uint64(buf[o:])
			o += 8
			if j < scanCount {
				e.scans = append(e.scans, id)
			}
		}
		n.entries[i] = e
	}
	return n
}
