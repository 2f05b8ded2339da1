package btree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDuplicateDuplicatesXXXMargo documents spec.md §9 open question 4: the
// source's "XXX: MARGO" path around duplicate-of-a-duplicate handling is
// commented out with unclear intent, so insertDuplicate's unsorted branch
// leaves tolerateDuplicateDuplicates false and passes an exact (key, val)
// repeat straight through rather than rejecting or silently dropping it.
// This test exists to fail loudly if that no-op is ever flipped without
// updating this note.
func TestDuplicateDuplicatesXXXMargo(t *testing.T) {
	require.False(t, tolerateDuplicateDuplicates)

	ctx := context.Background()
	tree, _ := newTestTree(t, Options{Sorted: false})

	key := intKey(11)
	val := []byte{0xaa}
	require.NoError(t, tree.Insert(ctx, testLocker, key, val))
	// Inserting the exact same (key, val) pair a second time is tolerated,
	// not rejected as errkind.KeyExists — the open question's unresolved
	// "duplicate duplicate" case.
	require.NoError(t, tree.Insert(ctx, testLocker, key, val))

	_, ok, err := tree.Get(ctx, testLocker, key)
	require.NoError(t, err)
	require.True(t, ok)
}
