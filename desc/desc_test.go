package desc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Property 9: after an arbitrary sequence of alloc_desc/free_desc, the sum
// of live descriptor sizes equals (desc_page_size - free_words) on every
// descriptor page.
func TestCompactionInvariant(t *testing.T) {
	s := NewStore(64) // 64 words = 512 bytes per page
	rng := rand.New(rand.NewSource(1))

	type alloc struct {
		addr Addr
		size int
	}
	var live []alloc
	var owner uint64

	for i := 0; i < 500; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(live))
			require.NoError(t, s.Free(live[idx].addr))
			live = append(live[:idx], live[idx+1:]...)
			continue
		}
		size := 1 + rng.Intn(32)
		data := make([]byte, size)
		owner++
		addr, err := s.Alloc(owner, data)
		if err != nil {
			continue
		}
		live = append(live, alloc{addr: addr, size: size})
	}

	pages := map[uint32]bool{}
	for _, a := range live {
		pages[a.addr.Page] = true
	}
	for pid := range pages {
		cap, err := s.PageCapacity(pid)
		require.NoError(t, err)
		liveBytes, err := s.LiveBytes(pid)
		require.NoError(t, err)
		freeWords, err := s.FreeWords(pid)
		require.NoError(t, err)
		require.Equal(t, cap, liveBytes+freeWords*WordSize)

		relocations, err := s.Compact(pid)
		require.NoError(t, err)
		for _, r := range relocations {
			for i := range live {
				if live[i].addr == r.OldAddr {
					live[i].addr = r.NewAddr
				}
			}
		}

		liveBytesAfter, err := s.LiveBytes(pid)
		require.NoError(t, err)
		freeWordsAfter, err := s.FreeWords(pid)
		require.NoError(t, err)
		require.Equal(t, liveBytes, liveBytesAfter)
		require.Equal(t, cap, liveBytesAfter+freeWordsAfter*WordSize)
	}

	for _, a := range live {
		got, err := s.Read(a.addr, a.size)
		require.NoError(t, err)
		require.Len(t, got, a.size)
	}
}

func TestAllocTooLarge(t *testing.T) {
	s := NewStore(8)
	_, err := s.Alloc(1, make([]byte, 1000))
	require.Error(t, err)
}
