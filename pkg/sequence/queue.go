package sequence

import "sync"

// Queue is an unbounded FIFO safe for concurrent use. Producers never block;
// a single consumer waits on Ready and drains with Dequeue.
type Queue[T any] struct {
	mx     sync.Mutex
	items  []T
	head   int
	ready  chan struct{}
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Enqueue appends value. It reports false once the queue is closed.
func (q *Queue[T]) Enqueue(value T) bool {
	q.mx.Lock()
	if q.closed {
		q.mx.Unlock()
		return false
	}
	q.items = append(q.items, value)
	q.mx.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *Queue[T]) Dequeue() (T, bool) {
	q.mx.Lock()
	defer q.mx.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	value := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return value, true
}

// Ready receives a signal after Enqueue. Signals coalesce, so drain with
// Dequeue until it reports false.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue[T]) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue[T]) IsClosed() bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.closed
}

// Close rejects further Enqueue calls and returns whatever was still queued.
// A consumer waiting on Ready is woken so it can notice.
func (q *Queue[T]) Close() []T {
	q.mx.Lock()
	q.closed = true
	rest := append([]T(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	q.mx.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return rest
}
