package memstore

import (
	"context"
	"sync"

	"github.com/sharvit-labs/ordidx/contract"
)

// lockEntry is one granted or waiting request against a LockKey.
type lockEntry struct {
	handle contract.LockHandle
	locker contract.LockerID
	mode   contract.LockMode
	grant  chan contract.LockResult
	abort  bool
}

// modesConflict applies standard read/write/update-lock compatibility:
// Read is shared, Write is exclusive, Upgrade is the "intent to become
// Write" mode and is compatible with concurrent Reads but not with another
// Upgrade or a Write.
func modesConflict(a, b contract.LockMode) bool {
	if a == contract.LockNone || b == contract.LockNone {
		return false
	}
	if a == contract.LockRead && b == contract.LockRead {
		return false
	}
	if (a == contract.LockRead && b == contract.LockUpgrade) || (a == contract.LockUpgrade && b == contract.LockRead) {
		return false
	}
	return true
}

// LockManager is a reference lock table guarded by a single mutex, with one
// entry list per LockKey. A locker's own entries never block it. There is
// no deadlock detection: Acquire never reports LockDeadlock, and Wait
// blocks until the lock is granted or ctx is done (spec.md's external
// LockManager collaborator is interface-only, and this implementation
// exists so the rest of the module has something concrete to run against).
type LockManager struct {
	mu      sync.Mutex
	nextID  uint64
	byKey   map[contract.LockKey][]*lockEntry
	byHndl  map[contract.LockHandle]*lockEntry
	keyOf   map[contract.LockHandle]contract.LockKey
}

func NewLockManager() *LockManager {
	return &LockManager{
		byKey:  map[contract.LockKey][]*lockEntry{},
		byHndl: map[contract.LockHandle]*lockEntry{},
		keyOf:  map[contract.LockHandle]contract.LockKey{},
	}
}

func (m *LockManager) newHandle() contract.LockHandle {
	m.nextID++
	return contract.NewLockHandle(m.nextID)
}

func (m *LockManager) Acquire(ctx context.Context, locker contract.LockerID, key contract.LockKey, mode contract.LockMode, flags contract.LockFlags) (contract.LockResult, contract.LockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byKey[key]
	blocked := false
	for _, e := range entries {
		if e.locker == locker {
			continue
		}
		if modesConflict(e.mode, mode) {
			blocked = true
			break
		}
	}

	h := m.newHandle()
	e := &lockEntry{handle: h, locker: locker, mode: mode}

	if !blocked {
		m.byKey[key] = append(entries, e)
		m.byHndl[h] = e
		m.keyOf[h] = key
		return contract.LockGranted, h, nil
	}
	if flags&contract.LockFlagNoWait != 0 {
		return contract.LockWait, contract.LockHandle{}, nil
	}

	e.grant = make(chan contract.LockResult, 1)
	m.byKey[key] = append(entries, e)
	m.byHndl[h] = e
	m.keyOf[h] = key
	return contract.LockWait, h, nil
}

func (m *LockManager) Couple(ctx context.Context, locker contract.LockerID, held contract.LockHandle, to contract.LockKey, mode contract.LockMode) (contract.LockResult, contract.LockHandle, error) {
	res, h, err := m.Acquire(ctx, locker, to, mode, contract.LockFlagNone)
	if err != nil {
		return res, h, err
	}
	if !held.IsZero() {
		_ = m.Release(held)
	}
	return res, h, nil
}

func (m *LockManager) Release(handle contract.LockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byHndl[handle]
	if !ok {
		return nil
	}
	key := m.keyOf[handle]
	delete(m.byHndl, handle)
	delete(m.keyOf, handle)

	entries := m.byKey[key]
	out := entries[:0]
	for _, cand := range entries {
		if cand == e {
			continue
		}
		out = append(out, cand)
	}
	m.byKey[key] = out
	m.wakeLocked(key)
	return nil
}

func (m *LockManager) Downgrade(handle contract.LockHandle, mode contract.LockMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byHndl[handle]
	if !ok {
		return nil
	}
	e.mode = mode
	m.wakeLocked(m.keyOf[handle])
	return nil
}

// wakeLocked grants the earliest compatible waiter(s) on key. Caller holds
// m.mu.
func (m *LockManager) wakeLocked(key contract.LockKey) {
	entries := m.byKey[key]
	for _, e := range entries {
		if e.grant == nil {
			continue
		}
		blocked := false
		for _, other := range entries {
			if other == e || other.grant != nil {
				continue
			}
			if modesConflict(other.mode, e.mode) {
				blocked = true
				break
			}
		}
		if !blocked {
			ch := e.grant
			e.grant = nil
			select {
			case ch <- contract.LockGranted:
			default:
			}
		}
	}
}

func (m *LockManager) Wait(ctx context.Context, handle contract.LockHandle) (contract.LockResult, error) {
	m.mu.Lock()
	e, ok := m.byHndl[handle]
	if !ok || e.grant == nil {
		m.mu.Unlock()
		return contract.LockGranted, nil
	}
	ch := e.grant
	m.mu.Unlock()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return contract.LockWait, ctx.Err()
	}
}

func (m *LockManager) AbortWait(handle contract.LockHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byHndl[handle]
	if !ok {
		return nil
	}
	if e.grant != nil {
		select {
		case res := <-e.grant:
			_ = res // drain any grant that raced the abort
		default:
		}
	}
	return m.Release(handle)
}
