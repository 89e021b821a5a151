package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	assert.True(t, q.IsEmpty())

	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Len())

	<-q.Ready()
	for want := 1; want <= 3; want++ {
		got, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[string]()
	q.Enqueue("a")
	q.Enqueue("b")
	_, _ = q.Dequeue()

	assert.Equal(t, []string{"b"}, q.Close())
	assert.False(t, q.Enqueue("c"))
	assert.True(t, q.IsEmpty())
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 800, n)
}

func TestQueueCloseWakesConsumer(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !q.IsClosed() {
			<-q.Ready()
		}
	}()
	q.Close()
	<-done
	assert.True(t, q.IsClosed())
}
