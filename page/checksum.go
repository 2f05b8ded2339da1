package page

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksums live in the last 4 bytes of the header reserved padding
// (buf[28:32]), covering every byte of the page except themselves.

func verifyChecksum(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	want := binary.LittleEndian.Uint32(buf[28:32])
	got := computeChecksum(buf)
	return want == got
}

func writeChecksum(buf []byte) {
	binary.LittleEndian.PutUint32(buf[28:32], computeChecksum(buf))
}

func computeChecksum(buf []byte) uint32 {
	c := crc32.NewIEEE()
	c.Write(buf[:28])
	c.Write(buf[32:])
	return c.Sum32()
}
