package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

func samplePage() *Page {
	p := &Page{
		Header: Header{
			LSN:        42,
			Pgno:       7,
			Prev:       6,
			Next:       8,
			Type:       TypeLeafBTree,
			Level:      0,
		},
		Cookie: Cookie{AccessMethod: AccessBTree, Checksum: true, PageSize: 4096},
	}
	p.entries = []Entry{
		{Kind: EntryKeyData, Key: []byte("alpha"), Val: []byte("1")},
		{Kind: EntryKeyData, Key: []byte("beta"), Val: []byte("2"), PendingDelete: true},
		{Kind: EntryOverflow, Key: []byte("gamma"), OverflowPgno: 99, OverflowLen: 50000},
		{Kind: EntryDuplicate, Key: []byte("delta"), DupPgno: 123},
	}
	p.NumEntries = uint16(len(p.entries))
	return p
}

// Property 8: pg_in(pg_out(p)) == p byte-for-byte, regardless of host
// endian (the codec always decodes/encodes against one fixed wire order,
// so there's nothing host-endian-dependent to vary in this test, but the
// round trip itself is exactly what the property requires).
func TestLeafPageRoundTrip(t *testing.T) {
	p := samplePage()
	buf, err := Encode(p, 4096)
	require.NoError(t, err)

	got, err := Decode(buf, p.Cookie)
	require.NoError(t, err)

	require.Equal(t, p.Header, got.Header)
	require.Equal(t, p.entries, got.entries)

	buf2, err := Encode(got, 4096)
	require.NoError(t, err)
	require.Equal(t, buf, buf2)
}

func TestInternalPageRoundTrip(t *testing.T) {
	p := &Page{
		Header: Header{Type: TypeInternalBTree, Pgno: 1, Level: 1},
		Cookie: Cookie{AccessMethod: AccessBTree, PageSize: 4096},
		entries: []Entry{
			{Kind: EntryKeyData, Key: nil, DupPgno: 2},
			{Kind: EntryKeyData, Key: []byte("m"), DupPgno: 3},
		},
	}
	p.NumEntries = uint16(len(p.entries))
	buf, err := Encode(p, 4096)
	require.NoError(t, err)

	got, err := Decode(buf, p.Cookie)
	require.NoError(t, err)
	require.Equal(t, p.entries, got.entries)
	require.Equal(t, contract.Pgno(2), got.Entry(0).ChildPtr())
	require.Equal(t, contract.Pgno(3), got.Entry(1).ChildPtr())
}

func TestDecodeUnknownType(t *testing.T) {
	buf := make([]byte, 4096)
	buf[24] = byte(0xfe)
	_, err := Decode(buf, Cookie{PageSize: 4096})
	k, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.UnknownType, k)
}

func TestDecodeBadChecksum(t *testing.T) {
	p := samplePage()
	buf, err := Encode(p, 4096)
	require.NoError(t, err)
	buf[100] ^= 0xff
	_, err = Decode(buf, p.Cookie)
	k, ok := errkind.Of(err)
	require.True(t, ok)
	require.Equal(t, errkind.PageFormat, k)
}

func TestMetaPageRoundTrip(t *testing.T) {
	m := BTreeMeta{
		Magic:        Magic,
		PageSize:     4096,
		FreeListHead: 0,
		LastPgno:     2,
		Root:         1,
		Flags:        0,
	}
	p := EncodeBTreeMeta(m)
	buf, err := Encode(p, 4096)
	require.NoError(t, err)

	got, err := Decode(buf, Cookie{AccessMethod: AccessBTree, PageSize: 4096})
	require.NoError(t, err)
	gotMeta, err := DecodeBTreeMeta(got)
	require.NoError(t, err)
	require.Equal(t, m, gotMeta)
}
