package memstore

import (
	"context"
	"sync"

	"github.com/sharvit-labs/ordidx/contract"
	"github.com/sharvit-labs/ordidx/errkind"
)

// txnState tracks one open transaction's locker id and savepoint depth.
type txnState struct {
	locker      contract.LockerID
	savepoints  contract.SavepointID
	aborted     bool
}

// TxnManager is a single-writer reference implementation: Begin acquires a
// module-wide writer lock (mirroring the teacher's kv.writer mutex held
// across the whole transaction), so at most one transaction mutates state
// at a time. Readers are not modeled separately here; spec.md's
// TxnManager collaborator is interface-only and this exists so btree/
// ttree/cursor have something concrete to drive end to end.
type TxnManager struct {
	writer sync.Mutex

	mu         sync.Mutex
	nextTxn    contract.TxnID
	nextLocker contract.LockerID
	active     map[contract.TxnID]*txnState

	wal    *WAL
	cache  *Cache
	files  []contract.FileID
}

func NewTxnManager(wal *WAL, cache *Cache, files ...contract.FileID) *TxnManager {
	return &TxnManager{
		active: map[contract.TxnID]*txnState{},
		wal:    wal,
		cache:  cache,
		files:  files,
	}
}

func (m *TxnManager) Begin(ctx context.Context) (contract.TxnID, contract.LockerID, error) {
	done := make(chan struct{})
	go func() {
		m.writer.Lock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		go func() { <-done; m.writer.Unlock() }()
		return 0, 0, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxn++
	m.nextLocker++
	txn := m.nextTxn
	locker := m.nextLocker
	m.active[txn] = &txnState{locker: locker}
	return txn, locker, nil
}

func (m *TxnManager) state(txn contract.TxnID) (*txnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.active[txn]
	if !ok {
		return nil, errkind.New("memstore.TxnManager", errkind.InvalidFlags)
	}
	return st, nil
}

func (m *TxnManager) Commit(ctx context.Context, txn contract.TxnID) error {
	if _, err := m.state(txn); err != nil {
		return err
	}
	defer m.finish(txn)

	if m.cache != nil {
		for _, f := range m.files {
			if err := m.cache.Fsync(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *TxnManager) Abort(ctx context.Context, txn contract.TxnID) error {
	st, err := m.state(txn)
	if err != nil {
		return err
	}
	st.aborted = true
	m.finish(txn)
	return nil
}

func (m *TxnManager) finish(txn contract.TxnID) {
	m.mu.Lock()
	delete(m.active, txn)
	m.mu.Unlock()
	m.writer.Unlock()
}

func (m *TxnManager) Savepoint(ctx context.Context, txn contract.TxnID) (contract.SavepointID, error) {
	st, err := m.state(txn)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st.savepoints++
	return st.savepoints, nil
}

// Checkpoint fsyncs every tracked file's pages; the WAL is not touched
// here, since WAL.LogRecord fsyncs each record as it is appended. It
// always completes in one pass in this reference
// implementation; a production checkpoint daemon still needs to tolerate
// contract.ErrIncomplete from a real implementation (spec.md §6).
func (m *TxnManager) Checkpoint(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	for _, f := range m.files {
		if err := m.cache.Fsync(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
