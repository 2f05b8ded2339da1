// Package memstore provides reference implementations of the contract/
// interfaces: a real page cache would sit in front of shared buffer pool
// infrastructure outside this module's scope, but btree/ttree/cursor need
// something to run against end to end, so this package wires the teacher's
// mmap file handling into the PageCache contract.
package memstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

const (
	mmapProtReadWrite = 0x1 | 0x2
	mmapShared        = 0x1
)

// pageFile is one mmap'd, page-structured file (spec.md §6 page-file
// format: a fixed page size, page 0 reserved for meta). Grounded on
// filodb_storage.go's KV type: mmapInit/extendFile/extendMmap kept in
// shape, generalized to serve arbitrary page contents instead of only
// B-tree nodes.
type pageFile struct {
	path     string
	pageSize int
	fp       *os.File

	mu        sync.Mutex
	mmapFile  int
	mmapTotal int
	chunks    [][]byte

	lastPgno contract.Pgno
	freeList []contract.Pgno

	pins  map[contract.Pgno]int
	dirty map[contract.Pgno]bool
}

func openPageFile(path string, pageSize int) (*pageFile, error) {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errkind.Wrap("memstore.openPageFile", errkind.IOError, err)
	}
	pf := &pageFile{
		path:     path,
		pageSize: pageSize,
		fp:       fp,
		pins:     map[contract.Pgno]int{},
		dirty:    map[contract.Pgno]bool{},
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, errkind.Wrap("memstore.openPageFile", errkind.IOError, err)
	}
	sz := int(fi.Size())
	if sz%pageSize != 0 {
		fp.Close()
		return nil, errkind.New("memstore.openPageFile", errkind.PageFormat)
	}
	mmapSize := 64 << 20
	for mmapSize < sz {
		mmapSize *= 2
	}
	if mmapSize < pageSize {
		mmapSize = pageSize
	}
	chunk, err := mmapFile(fp.Fd(), 0, mmapSize, mmapProtReadWrite, mmapShared)
	if err != nil {
		fp.Close()
		return nil, errkind.Wrap("memstore.openPageFile", errkind.IOError, err)
	}
	pf.mmapFile = sz
	pf.mmapTotal = len(chunk)
	pf.chunks = [][]byte{chunk}
	pf.lastPgno = contract.Pgno(sz / pageSize)
	if pf.lastPgno == 0 {
		// reserve page 0 for the meta page.
		if err := pf.growLocked(1); err != nil {
			return nil, err
		}
		pf.lastPgno = 1
	}
	return pf, nil
}

func (pf *pageFile) close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	var firstErr error
	for _, c := range pf.chunks {
		if err := unmapFile(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := pf.fp.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// growLocked extends the file (and mmap, if needed) to hold npages pages.
// Caller holds pf.mu.
func (pf *pageFile) growLocked(npages int) error {
	filePages := pf.mmapFile / pf.pageSize
	if filePages >= npages {
		return nil
	}
	for filePages < npages {
		inc := filePages / 8
		if inc < 1 {
			inc = 1
		}
		filePages += inc
	}
	fileSize := filePages * pf.pageSize
	if err := fallocateFile(pf.fp.Fd(), 0, int64(fileSize)); err != nil {
		if err := pf.fp.Truncate(int64(fileSize)); err != nil {
			return errkind.Wrap("memstore.growLocked", errkind.IOError, err)
		}
	}
	pf.mmapFile = fileSize

	if pf.mmapTotal < fileSize {
		chunk, err := mmapFile(pf.fp.Fd(), int64(pf.mmapTotal), pf.mmapTotal, mmapProtReadWrite, mmapShared)
		if err != nil {
			return errkind.Wrap("memstore.growLocked", errkind.IOError, err)
		}
		pf.mmapTotal += pf.mmapTotal
		if pf.mmapTotal < fileSize {
			pf.mmapTotal = fileSize
		}
		pf.chunks = append(pf.chunks, chunk)
	}
	return nil
}

func (pf *pageFile) locate(pgno contract.Pgno) ([]byte, error) {
	start := 0
	offsetBytes := int(pgno) * pf.pageSize
	for _, c := range pf.chunks {
		if offsetBytes < start+len(c) {
			rel := offsetBytes - start
			if rel+pf.pageSize > len(c) {
				return nil, errkind.New("memstore.locate", errkind.IOError)
			}
			return c[rel : rel+pf.pageSize], nil
		}
		start += len(c)
	}
	return nil, errkind.Wrap("memstore.locate", errkind.IOError, fmt.Errorf("pgno %d out of range", pgno))
}

// get pins pgno and returns the live mmap'd bytes backing it: callers
// mutate this slice in place and signal the mutation via put(dirty=true)
// rather than handing a separate buffer back, matching contract.PageCache's
// Get/Put shape.
func (pf *pageFile) get(pgno contract.Pgno) ([]byte, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if int(pgno) >= pf.mmapFile/pf.pageSize {
		return nil, errkind.New("memstore.get", errkind.NotFound)
	}
	raw, err := pf.locate(pgno)
	if err != nil {
		return nil, err
	}
	pf.pins[pgno]++
	return raw, nil
}

func (pf *pageFile) put(pgno contract.Pgno, dirty bool) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.pins[pgno] <= 0 {
		return errkind.New("memstore.put", errkind.InvalidFlags)
	}
	pf.pins[pgno]--
	if dirty {
		pf.dirty[pgno] = true
	}
	return nil
}

func (pf *pageFile) alloc() (contract.Pgno, []byte, error) {
	pf.mu.Lock()
	if len(pf.freeList) > 0 {
		pgno := pf.freeList[len(pf.freeList)-1]
		pf.freeList = pf.freeList[:len(pf.freeList)-1]
		raw, err := pf.locate(pgno)
		if err != nil {
			pf.mu.Unlock()
			return 0, nil, err
		}
		for i := range raw {
			raw[i] = 0
		}
		pf.pins[pgno]++
		pf.mu.Unlock()
		return pgno, raw, nil
	}
	pgno := pf.lastPgno
	pf.lastPgno++
	if err := pf.growLocked(int(pf.lastPgno) + 1); err != nil {
		pf.mu.Unlock()
		return 0, nil, err
	}
	raw, err := pf.locate(pgno)
	if err != nil {
		pf.mu.Unlock()
		return 0, nil, err
	}
	pf.pins[pgno]++
	pf.mu.Unlock()
	return pgno, raw, nil
}

func (pf *pageFile) free(pgno contract.Pgno) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.pins[pgno] > 0 {
		return errkind.New("memstore.free", errkind.InvalidFlags)
	}
	pf.freeList = append(pf.freeList, pgno)
	delete(pf.dirty, pgno)
	return nil
}

func (pf *pageFile) fsync() error {
	if err := pf.fp.Sync(); err != nil {
		return errkind.Wrap("memstore.fsync", errkind.IOError, err)
	}
	return nil
}

// Cache is a contract.PageCache over one directory of per-fragment page
// files, opened lazily on first use.
type Cache struct {
	dir      string
	pageSize int
	log      *zap.Logger

	mu    sync.Mutex
	files map[contract.FileID]*pageFile
}

func NewCache(dir string, pageSize int, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{dir: dir, pageSize: pageSize, files: map[contract.FileID]*pageFile{}, log: log}
}

func (c *Cache) fileFor(id contract.FileID) (*pageFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pf, ok := c.files[id]; ok {
		return pf, nil
	}
	path := fmt.Sprintf("%s/frag-%d.db", c.dir, id)
	pf, err := openPageFile(path, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.files[id] = pf
	c.log.Debug("opened page file", zap.Uint32("file", uint32(id)), zap.String("path", path))
	return pf, nil
}

func (c *Cache) Get(_ context.Context, file contract.FileID, pgno contract.Pgno) ([]byte, error) {
	pf, err := c.fileFor(file)
	if err != nil {
		return nil, err
	}
	return pf.get(pgno)
}

func (c *Cache) Put(file contract.FileID, pgno contract.Pgno, dirty bool) error {
	pf, err := c.fileFor(file)
	if err != nil {
		return err
	}
	return pf.put(pgno, dirty)
}

func (c *Cache) Fsync(_ context.Context, file contract.FileID) error {
	pf, err := c.fileFor(file)
	if err != nil {
		return err
	}
	return pf.fsync()
}

func (c *Cache) Alloc(_ context.Context, file contract.FileID) (contract.Pgno, []byte, error) {
	pf, err := c.fileFor(file)
	if err != nil {
		return 0, nil, err
	}
	return pf.alloc()
}

func (c *Cache) Free(_ context.Context, file contract.FileID, pgno contract.Pgno) error {
	pf, err := c.fileFor(file)
	if err != nil {
		return err
	}
	return pf.free(pgno)
}

// LastPgno reports the page number the next fresh allocation in file
// takes, which is past every page allocated so far — used by the upgrade
// CLI to bound its scan.
func (c *Cache) LastPgno(file contract.FileID) (contract.Pgno, error) {
	pf, err := c.fileFor(file)
	if err != nil {
		return 0, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.lastPgno, nil
}

// Close unmaps and closes every open file.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, pf := range c.files {
		if err := pf.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
