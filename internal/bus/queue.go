package bus

import "sync"

// queue is an unbounded FIFO. Every accepted item gets a sequence number so
// callers can wait for everything accepted up to a point to be marked done.
type queue[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []T
	closed    bool
	accepted  uint64
	completed uint64
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.accepted++
	q.cond.Broadcast()
	return true
}

// pop blocks until an item is available. It returns false once the queue is
// closed and drained.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *queue[T]) done() {
	q.mu.Lock()
	q.completed++
	q.mu.Unlock()
	q.cond.Broadcast()
}

// waitAccepted blocks until every item accepted before the call is done, or
// until abort reports true.
func (q *queue[T]) waitAccepted(abort func() bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	target := q.accepted
	for q.completed < target {
		if abort != nil && abort() {
			return
		}
		q.cond.Wait()
	}
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) total() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.accepted
}
