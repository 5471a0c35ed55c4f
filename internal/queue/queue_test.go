package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFO(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := New[int](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		_, ok := q.Dequeue()
		assert.False(ok)

		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := New[string](1)

		q.Enqueue("data1")
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		q.Enqueue("data2")
		assert.Equal(2, q.Length())

		item, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal("data1", item)
		assert.Equal(1, q.Length())

		item, ok = q.Dequeue()
		assert.True(ok)
		assert.Equal("data2", item)
		assert.True(q.IsEmpty())

		_, ok = q.Dequeue()
		assert.False(ok)
	})

	t.Run("Peek", func(t *testing.T) {
		q := New[int](2)

		q.Enqueue(1)
		item, ok := q.Peek()
		assert.True(ok)
		assert.Equal(1, item)
		assert.Equal(1, q.Length()) // Length should not change after peek

		q.Enqueue(2)
		item, _ = q.Peek()
		assert.Equal(1, item)

		q.Dequeue()
		item, _ = q.Peek()
		assert.Equal(2, item)
	})

	t.Run("Drain", func(t *testing.T) {
		q := New[int](4)
		for i := 0; i < 4; i++ {
			q.Enqueue(i)
		}

		items := q.Drain()
		assert.Equal([]int{0, 1, 2, 3}, items)
		assert.True(q.IsEmpty())
		assert.Empty(q.Drain())
	})

	t.Run("Reset", func(t *testing.T) {
		q := New[int](2)
		q.Enqueue(1)
		q.Enqueue(2)

		q.Reset()
		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
	})
}
