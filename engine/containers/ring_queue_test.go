package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFOAndWrap(t *testing.T) {
	q := NewRingQueue[int](3)
	require.True(t, q.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue(4), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// the write index wraps to the first slot
	require.NoError(t, q.Enqueue(4))
	assert.Equal(t, 3, q.Len())

	var got []int
	for !q.IsEmpty() {
		v, err := q.Dequeue()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestRingQueueEmpty(t *testing.T) {
	q := NewRingQueue[string](1)
	_, err := q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, q.Enqueue("a"))
	v, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, q.Cap())
}

func TestRingQueueZeroCapacityIsAlwaysFull(t *testing.T) {
	q := NewRingQueue[int](0)
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue(1), ErrQueueFull)
}
