package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingDropsOldest(t *testing.T) {
	r := newRing[int](3)

	_, ok := r.last()
	assert.False(t, ok)
	assert.Empty(t, r.slice())

	for i := 1; i <= 5; i++ {
		r.push(i)
	}

	assert.Equal(t, 3, r.len())
	assert.Equal(t, []int{3, 4, 5}, r.slice())

	last, ok := r.last()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestRingPartialFill(t *testing.T) {
	r := newRing[string](4)
	r.push("a")
	r.push("b")

	assert.Equal(t, []string{"a", "b"}, r.slice())
	assert.Equal(t, 2, r.len())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := newRing[int](0)
	r.push(1)
	r.push(2)
	assert.Equal(t, []int{2}, r.slice())
}
