package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	val int
}

func TestAllocateDistinctIndices(t *testing.T) {
	p := New[record](16)
	seen := make(map[Index]bool)
	for i := 0; i < 16; i++ {
		idx, slot, ok := p.Allocate()
		require.True(t, ok)
		assert.False(t, seen[idx], "index %d allocated twice", idx)
		seen[idx] = true
		slot.val = i
	}
	_, _, ok := p.Allocate()
	assert.False(t, ok, "pool should be exhausted")
}

func TestDeallocateRestoresCapacity(t *testing.T) {
	p := New[record](8)
	var idxs []Index
	for i := 0; i < 8; i++ {
		idx, _, ok := p.Allocate()
		require.True(t, ok)
		idxs = append(idxs, idx)
	}
	assert.Equal(t, 0, p.Available())
	for _, idx := range idxs {
		p.Deallocate(idx)
	}
	assert.Equal(t, 8, p.Available())

	// Allocate again after freeing — every call succeeds.
	for i := 0; i < 8; i++ {
		_, _, ok := p.Allocate()
		require.True(t, ok)
	}
}

func TestAllocateKAndFreeKRestoresCapacity(t *testing.T) {
	p := New[record](32)
	for round := 0; round < 5; round++ {
		var idxs []Index
		for i := 0; i < 20; i++ {
			idx, _, ok := p.Allocate()
			require.True(t, ok)
			idxs = append(idxs, idx)
		}
		for _, idx := range idxs {
			p.Deallocate(idx)
		}
		assert.Equal(t, 32, p.Available())
	}
}

func TestGetReflectsStoredValue(t *testing.T) {
	p := New[record](4)
	idx, slot, ok := p.Allocate()
	require.True(t, ok)
	slot.val = 42
	assert.Equal(t, 42, p.Get(idx).val)
	assert.Equal(t, 42, p.GetUnchecked(idx).val)
}

func TestGetOutOfRangeIsNil(t *testing.T) {
	p := New[record](2)
	assert.Nil(t, p.Get(Index(100)))
}

func TestDeallocateBeyondCapacityPanics(t *testing.T) {
	p := New[record](2)
	idx, _, ok := p.Allocate()
	require.True(t, ok)
	p.Deallocate(idx)
	assert.Panics(t, func() {
		p.Deallocate(idx)
		p.Deallocate(idx)
	})
}
