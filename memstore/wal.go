package memstore

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// WAL is an append-only write-ahead log: each LogRecord call appends a
// length-prefixed frame and returns the LSN it was assigned. Durability is
// achieved by fsync-ing on every call; a production log would batch group
// commits, but spec.md's WAL collaborator is interface-only and this
// implementation exists only so the rest of the module has something
// concrete to drive.
type WAL struct {
	mu   sync.Mutex
	fp   *os.File
	next contract.LSN
}

func NewWAL(path string) (*WAL, error) {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errkind.Wrap("memstore.NewWAL", errkind.IOError, err)
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, errkind.Wrap("memstore.NewWAL", errkind.IOError, err)
	}
	// LSNs start at 1 and advance by each frame's byte length; a cold-opened
	// log with existing content resumes at its file size, which is past every
	// LSN handed out before.
	next := contract.LSN(1)
	if fi.Size() > 0 {
		next = contract.LSN(fi.Size())
	}
	return &WAL{fp: fp, next: next}, nil
}

// frame: [4B opLen][op][8B txn][8B beforeLSN][4B payloadLen][payload]
func (w *WAL) LogRecord(txn contract.TxnID, op string, beforeLSN contract.LSN, payload []byte) (contract.LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, 0, 24+len(op)+len(payload))
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(op)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, op...)
	binary.LittleEndian.PutUint64(tmp[:8], uint64(txn))
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint64(tmp[:8], uint64(beforeLSN))
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(payload)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, payload...)

	if _, err := w.fp.Write(buf); err != nil {
		return 0, errkind.Wrap("memstore.WAL.LogRecord", errkind.IOError, err)
	}
	if err := w.fp.Sync(); err != nil {
		return 0, errkind.Wrap("memstore.WAL.LogRecord", errkind.IOError, err)
	}

	lsn := w.next
	w.next += contract.LSN(len(buf))
	return lsn, nil
}

// Size reports the WAL file's current byte length, used by the checkpoint
// daemon's "-k KB" trigger (spec.md §6).
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fi, err := w.fp.Stat()
	if err != nil {
		return 0, errkind.Wrap("memstore.WAL.Size", errkind.IOError, err)
	}
	return fi.Size(), nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fp.Close(); err != nil {
		return errkind.Wrap("memstore.WAL.Close", errkind.IOError, err)
	}
	return nil
}
