package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFifoWrite(t *testing.T) {
	f := NewFifo[int](3)
	assert.Equal(t, 3, f.GetSpace())
	assert.Equal(t, 0, f.GetOccupied())
	for i := 0; i < 3; i++ {
		assert.True(t, f.Write(i))
	}
	assert.Equal(t, 0, f.GetSpace())
	assert.Equal(t, 3, f.GetOccupied())
	assert.False(t, f.Write(10))
	assert.True(t, f.TakeOverrun())
	assert.False(t, f.TakeOverrun())
}

func TestFifoRead(t *testing.T) {
	f := NewFifo[int](3)
	_, ok := f.Read()
	assert.False(t, ok)

	// Wrap around a few times and check order
	next := 0
	for round := 0; round < 5; round++ {
		assert.True(t, f.Write(round*2))
		assert.True(t, f.Write(round*2+1))
		for i := 0; i < 2; i++ {
			v, ok := f.Read()
			assert.True(t, ok)
			assert.Equal(t, next, v)
			next++
		}
	}
	assert.Equal(t, 0, f.GetOccupied())
}

func TestFifoReset(t *testing.T) {
	f := NewFifo[int](2)
	f.Write(1)
	f.Write(2)
	f.Write(3)
	f.Reset()
	assert.Equal(t, 0, f.GetOccupied())
	assert.Equal(t, 2, f.GetSpace())
	assert.False(t, f.TakeOverrun())
}
