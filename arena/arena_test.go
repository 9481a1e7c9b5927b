package arena

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, minLog2, maxLog2, sizeBytes int) *Arena {
	t.Helper()
	return New(minLog2, maxLog2, make([]byte, sizeBytes))
}

func TestClassForSize(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{5, 3},
		{8, 3},
		{9, 4},
		{1024, 10},
		{1025, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassForSize(tt.size), "size=%d", tt.size)
	}
}

func TestAllocateLocalBasic(t *testing.T) {
	a := newTestArena(t, 3, 10, 4096) // min=8B, max=1024B

	dst := make([]Block, 1)
	n := a.AllocateLocal(dst, 3)
	require.Equal(t, 1, n)
	assert.Equal(t, 3, dst[0].Class)
}

func TestAllocateLocalSplits(t *testing.T) {
	a := newTestArena(t, 3, 10, 1024) // one 1024B chunk

	dst := make([]Block, 1)
	n := a.AllocateLocal(dst, 3) // smallest class, forces a full split chain
	require.Equal(t, 1, n)

	// Every level below the split 1024B block (classes 3..9) should now
	// hold exactly one free buddy; the 1024B block itself is gone.
	for k := 3; k <= 9; k++ {
		assert.Equal(t, int64(1<<uint(k)), a.Available(k), "class %d", k)
	}
	assert.Equal(t, int64(0), a.Available(10))
}

func TestAllocateLocalExhaustsArena(t *testing.T) {
	a := newTestArena(t, 3, 10, 1024) // 1024B arena, min block 8B -> 128 blocks

	dst := make([]Block, 200)
	n := a.AllocateLocal(dst, 3)
	assert.Equal(t, 128, n)

	// arena is dry now
	more := make([]Block, 1)
	assert.Equal(t, 0, a.AllocateLocal(more, 3))
}

func TestDeallocateLocalCoalescesFully(t *testing.T) {
	a := newTestArena(t, 3, 10, 1024)

	dst := make([]Block, 128)
	n := a.AllocateLocal(dst, 3)
	require.Equal(t, 128, n)

	total := a.TotalAvailable()
	assert.Equal(t, int64(0), total)

	for _, b := range dst {
		a.DeallocateLocal(b.Class, b.Offset)
	}

	assert.Equal(t, int64(1024), a.TotalAvailable())
	assert.Equal(t, int64(1024), a.Available(10))
}

func TestDeallocatePartialCoalesce(t *testing.T) {
	a := newTestArena(t, 3, 10, 1024)

	dst := make([]Block, 2)
	require.Equal(t, 2, a.AllocateLocal(dst, 3))

	// Free only one of the two buddies: no coalesce should happen yet.
	a.DeallocateLocal(dst[0].Class, dst[0].Offset)
	assert.Equal(t, int64(8), a.Available(3))

	// Freeing its buddy should coalesce all the way back up.
	a.DeallocateLocal(dst[1].Class, dst[1].Offset)
	assert.Equal(t, int64(0), a.Available(3))
	assert.Equal(t, int64(1024), a.TotalAvailable())
}

func TestBytesReturnsDistinctNonOverlappingRegions(t *testing.T) {
	a := newTestArena(t, 3, 10, 2048)

	dst := make([]Block, 2)
	require.Equal(t, 2, a.AllocateLocal(dst, 5)) // 32B blocks

	b1 := a.Bytes(dst[0].Offset, 32)
	b2 := a.Bytes(dst[1].Offset, 32)
	assert.NotEqual(t, dst[0].Offset, dst[1].Offset)
	b1[0] = 0xAB
	assert.NotEqual(t, b1[0], b2[0])
}

func TestResetRestoresInitialState(t *testing.T) {
	a := newTestArena(t, 3, 10, 4096)
	before := a.TotalAvailable()

	dst := make([]Block, 4)
	a.AllocateLocal(dst, 3)
	assert.Less(t, a.TotalAvailable(), before)

	a.Reset()
	assert.Equal(t, before, a.TotalAvailable())
}

func TestRandomAllocDeallocPreservesTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := newTestArena(t, 3, 12, 1<<16) // 64KB arena

	initial := a.TotalAvailable()
	var live []Block

	for i := 0; i < 5000; i++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			k := 3 + rng.Intn(10)
			dst := make([]Block, 1)
			if a.AllocateLocal(dst, k) == 1 {
				live = append(live, dst[0])
			}
		} else {
			idx := rng.Intn(len(live))
			b := live[idx]
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			a.DeallocateLocal(b.Class, b.Offset)
		}
	}

	for _, b := range live {
		a.DeallocateLocal(b.Class, b.Offset)
	}

	assert.Equal(t, initial, a.TotalAvailable())
}

func TestMultiChunkArenaInitialState(t *testing.T) {
	a := newTestArena(t, 3, 10, 4096) // 4 chunks of 1024B each (max class 10 = 1024B)
	assert.Equal(t, int64(4), a.Available(10)/1024)
	assert.Equal(t, int64(4096), a.TotalAvailable())
}
