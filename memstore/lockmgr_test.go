package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharvit-labs/ordidx/contract"
)

// TestLockWaitThenGrant is end-to-end scenario S4 (spec.md §8): a reader
// holds K, a writer's Acquire blocks, and releasing the reader wakes the
// writer.
func TestLockWaitThenGrant(t *testing.T) {
	ctx := context.Background()
	m := NewLockManager()
	key := contract.RowKey(contract.FileID(1), 42)

	res, readHandle, err := m.Acquire(ctx, contract.LockerID(1), key, contract.LockRead, contract.LockFlagNone)
	require.NoError(t, err)
	require.Equal(t, contract.LockGranted, res)

	res, writeHandle, err := m.Acquire(ctx, contract.LockerID(2), key, contract.LockWrite, contract.LockFlagNone)
	require.NoError(t, err)
	require.Equal(t, contract.LockWait, res)

	done := make(chan contract.LockResult, 1)
	go func() {
		res, err := m.Wait(ctx, writeHandle)
		require.NoError(t, err)
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("writer should not be granted while reader holds K")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.Release(readHandle))

	select {
	case res := <-done:
		require.Equal(t, contract.LockGranted, res)
	case <-time.After(time.Second):
		t.Fatal("writer was never woken after reader released K")
	}
}

func TestReadReadDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	m := NewLockManager()
	key := contract.PageKey(contract.FileID(1), 1)

	res, _, err := m.Acquire(ctx, contract.LockerID(1), key, contract.LockRead, contract.LockFlagNone)
	require.NoError(t, err)
	require.Equal(t, contract.LockGranted, res)

	res, _, err = m.Acquire(ctx, contract.LockerID(2), key, contract.LockRead, contract.LockFlagNone)
	require.NoError(t, err)
	require.Equal(t, contract.LockGranted, res)
}
