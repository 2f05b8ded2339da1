package contract

import "context"

// PageCache is the shared buffer pool: pages are pinned while in use, the
// mutator sets the dirty flag, and only the cache may evict unpinned pages
// (spec.md §5 "Shared-resource policy"). The core never reads or writes a
// page file directly — every access goes through Get/Put.
//
// Pages are exchanged as raw byte slices; the page/ package's codec
// (pg_in/pg_out) is responsible for interpreting the bytes. Keeping this
// contract byte-oriented avoids a dependency from contract/ onto the page/
// package, which is itself a caller of PageCache.
type PageCache interface {
	// Get pins and returns the page's bytes, running pg_in on first read
	// from disk. The returned slice must not be retained past the matching
	// Put; callers that need to keep data must copy it.
	Get(ctx context.Context, file FileID, pgno Pgno) ([]byte, error)
	// Put unpins a page previously returned by Get. If dirty, the cache
	// marks it for later pg_out + write-back; it is not necessarily
	// flushed synchronously.
	Put(file FileID, pgno Pgno, dirty bool) error
	// Fsync forces all dirty pages of file to stable storage.
	Fsync(ctx context.Context, file FileID) error
	// Alloc reserves a new page number in file, returning its zero-filled
	// bytes already pinned (the caller must Put it like any other page).
	Alloc(ctx context.Context, file FileID) (Pgno, []byte, error)
	// Free returns a page to the file's free list. The page must not be
	// pinned when Free is called.
	Free(ctx context.Context, file FileID, pgno Pgno) error
}

// LockManager is the only path to cross-transaction mutual exclusion
// (spec.md §5). All methods are safe to call concurrently.
type LockManager interface {
	// Acquire requests mode access to key on behalf of locker. LockWait
	// means the caller must block on Wait(handle) (or give up and call
	// AbortWait); LockDeadlock means a cycle was detected and the
	// transaction must abort.
	Acquire(ctx context.Context, locker LockerID, key LockKey, mode LockMode, flags LockFlags) (LockResult, LockHandle, error)
	// Couple atomically releases the lock on from (if any, via handle) and
	// acquires mode on to — "lock coupling" (spec.md glossary): the cursor
	// protocol of releasing the parent's lock immediately after acquiring
	// the child's, retaining at most one lock at a time during descent.
	Couple(ctx context.Context, locker LockerID, held LockHandle, to LockKey, mode LockMode) (LockResult, LockHandle, error)
	// Release releases a single held lock.
	Release(handle LockHandle) error
	// Downgrade lowers a held lock's mode in place (e.g. write -> read).
	Downgrade(handle LockHandle, mode LockMode) error
	// Wait blocks until a LockWait result from Acquire/Couple resolves,
	// returning the final result (LockGranted or LockDeadlock).
	Wait(ctx context.Context, handle LockHandle) (LockResult, error)
	// AbortWait cancels an outstanding wait, using an abort-and-confirm
	// handshake that also drains any grant reply already in flight
	// (spec.md §4.9 "Close / abort").
	AbortWait(handle LockHandle) error
}

// WAL is the write-ahead log. LogRecord returns the new LSN once the record
// is durable (or at least ordered for durability — spec.md only requires
// that records for one logical operation become durable in emission order).
type WAL interface {
	LogRecord(txn TxnID, op string, beforeLSN LSN, payload []byte) (LSN, error)
}

// TxnManager owns transaction and savepoint lifecycle and locker ids.
type TxnManager interface {
	Begin(ctx context.Context) (TxnID, LockerID, error)
	Commit(ctx context.Context, txn TxnID) error
	Abort(ctx context.Context, txn TxnID) error
	Savepoint(ctx context.Context, txn TxnID) (SavepointID, error)
	// Checkpoint flushes enough state that recovery can start from it.
	// It may return ErrIncomplete if it could not finish in this call
	// (spec.md §6 checkpoint daemon retry policy).
	Checkpoint(ctx context.Context) error
}

// ErrIncomplete is returned by TxnManager.Checkpoint when a checkpoint
// could not be completed in one pass; the checkpoint daemon tolerates this
// by sleeping and retrying (spec.md §6).
var ErrIncomplete = errIncomplete{}

type errIncomplete struct{}

func (errIncomplete) Error() string { return "checkpoint incomplete" }

// HeapStore is the tuple store backing both tree fragments: the B-tree's
// leaf entries and the T-tree's node entries both ultimately reference rows
// held here.
type HeapStore interface {
	// ReadKeyAttrs reads the attrIDs-selected attributes of rowid/version
	// into out (one slice per requested attribute).
	ReadKeyAttrs(ctx context.Context, frag FragmentID, rowid TupLoc, version TupleVersion, attrIDs []int, out [][]byte) error
	// ReadPK reads the primary key bytes of rowid.
	ReadPK(ctx context.Context, frag FragmentID, rowid TupLoc) ([]byte, error)
	// Visible reports whether rowid/version is visible to txn under the
	// given read-committed/dirty-read and savepoint settings.
	Visible(ctx context.Context, frag FragmentID, rowid TupLoc, version TupleVersion, txn TxnID, dirty bool, savepoint SavepointID) bool
	// AllocIndexNode allocates a fixed-size T-tree node record inside the
	// heap's own pages, returning its location and a zero-filled buffer.
	AllocIndexNode(ctx context.Context, frag FragmentID, size int) (TupLoc, []byte, error)
	// FreeIndexNode releases a T-tree node record back to the heap.
	FreeIndexNode(ctx context.Context, frag FragmentID, loc TupLoc) error
	// LoadIndexNode re-reads a previously allocated node's bytes; pointers
	// returned are transient and must not outlive the current operation
	// (spec.md §4.4 select_node).
	LoadIndexNode(ctx context.Context, frag FragmentID, loc TupLoc) ([]byte, error)
	// StoreIndexNode writes back a node's bytes in place.
	StoreIndexNode(ctx context.Context, frag FragmentID, loc TupLoc, data []byte) error
}
