package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingKeepsMostRecent(t *testing.T) {
	r := newRing[int](3)
	assert.Empty(t, r.items())

	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	assert.Equal(t, 3, r.len())
	assert.Equal(t, []int{3, 4, 5}, r.items())
}

func TestRingZeroCapacity(t *testing.T) {
	r := newRing[string](0)
	r.push("a")
	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.items())
}

func TestRingPartialFill(t *testing.T) {
	r := newRing[int](4)
	r.push(7)
	r.push(8)
	assert.Equal(t, []int{7, 8}, r.items())
}
