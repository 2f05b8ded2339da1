package page

import (
	"context"
	"encoding/binary"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// Converter rewrites one page from an old (type, version) to the next
// version up, possibly extending the file (spec.md §4.1: "hash v5 required
// materialising a previously virtual page range"). Converters never run
// cross-endian; the caller must pre-swap before invoking Upgrade.
type Converter func(ctx context.Context, cache contract.PageCache, file contract.FileID, pgno contract.Pgno, buf []byte) ([]byte, error)

// converters maps (Type, fromVersion) to the function that produces the
// fromVersion+1 page. Only meta pages carry an explicit version; data pages
// are upgraded implicitly when their owning meta page's converter runs.
var converters = map[converterKey]Converter{
	{TypeBTreeMeta, 7}: upgradeBTreeMetaV7,
}

type converterKey struct {
	typ     Type
	version uint32
}

// Upgrade iterates every page of file once, invoking the converter table
// for any page whose stamped version is below MetaVersion, and stamps each
// page with the version it reached. It does not check byte order: a file
// written cross-endian relative to this process is not detected here (the
// caller is responsible for a separate pre-swap pass — see spec.md
// §4.1/§6).
func Upgrade(ctx context.Context, cache contract.PageCache, file contract.FileID, lastPgno contract.Pgno) error {
	for pgno := contract.Pgno(0); pgno <= lastPgno; pgno++ {
		buf, err := cache.Get(ctx, file, pgno)
		if err != nil {
			return errkind.Wrap("page.Upgrade", errkind.IOError, err)
		}
		if len(buf) < HeaderSize+4 {
			_ = cache.Put(file, pgno, false)
			continue
		}
		typ := Type(buf[24])
		if !typ.IsMeta() {
			_ = cache.Put(file, pgno, false)
			continue
		}
		version := binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+4])
		dirty := false
		for version < MetaVersion {
			conv, ok := converters[converterKey{typ, version}]
			if !ok {
				_ = cache.Put(file, pgno, dirty)
				return errkind.New("page.Upgrade", errkind.OldVersion)
			}
			buf, err = conv(ctx, cache, file, pgno, buf)
			if err != nil {
				_ = cache.Put(file, pgno, dirty)
				return err
			}
			version++
			binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], version)
			dirty = true
		}
		_ = cache.Put(file, pgno, dirty)
	}
	return nil
}

// upgradeBTreeMetaV7 bumps a v7 btree meta page to v8 in place; v7/v8 share
// layout in this codec (scenario S7 only requires the version stamp and
// root pointer to survive), so no field migration is needed beyond the
// version stamp Upgrade itself writes after each converter runs.
func upgradeBTreeMetaV7(_ context.Context, _ contract.PageCache, _ contract.FileID, _ contract.Pgno, buf []byte) ([]byte, error) {
	return buf, nil
}
