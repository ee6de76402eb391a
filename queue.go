package msgnet

import (
	"container/list"
	"context"
	"sync"
)

// Queue is a double-ended queue safe for concurrent use.
// Any number of goroutines may push while a consumer blocks in Wait.
//
// All state is guarded by one mutex; every push signals one waiter.
type Queue[E any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *list.List

	// notify, if set, runs after every push. It must not block.
	notify func()
}

// NewQueue returns an empty queue.
func NewQueue[E any]() *Queue[E] {
	q := &Queue[E]{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// newNotifyingQueue returns an empty queue that calls notify after every
// push, so one consumer can wait on several queues.
func newNotifyingQueue[E any](notify func()) *Queue[E] {
	q := NewQueue[E]()
	q.notify = notify
	return q
}

// PushBack adds e to the back of the queue and returns the new length.
func (q *Queue[E]) PushBack(e E) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.PushBack(e)
	q.cond.Signal()
	if q.notify != nil {
		q.notify()
	}
	return q.items.Len()
}

// PushFront adds e to the front of the queue and returns the new length.
func (q *Queue[E]) PushFront(e E) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.PushFront(e)
	q.cond.Signal()
	if q.notify != nil {
		q.notify()
	}
	return q.items.Len()
}

// PopFront removes and returns the front item.
// ok is false when the queue is empty.
func (q *Queue[E]) PopFront() (e E, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.remove(q.items.Front())
}

// PopBack removes and returns the back item.
// ok is false when the queue is empty.
func (q *Queue[E]) PopBack() (e E, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.remove(q.items.Back())
}

func (q *Queue[E]) remove(el *list.Element) (e E, ok bool) {
	if el == nil {
		return e, false
	}
	return q.items.Remove(el).(E), true
}

// Front returns the front item without removing it.
func (q *Queue[E]) Front() (e E, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el := q.items.Front(); el != nil {
		return el.Value.(E), true
	}
	return e, false
}

// Back returns the back item without removing it.
func (q *Queue[E]) Back() (e E, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el := q.items.Back(); el != nil {
		return el.Value.(E), true
	}
	return e, false
}

// Empty reports whether the queue holds no items.
func (q *Queue[E]) Empty() bool {
	return q.Count() == 0
}

// Count returns the number of queued items.
func (q *Queue[E]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len()
}

// Clear drops every queued item.
func (q *Queue[E]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.Init()
}

// Wait blocks until the queue is non-empty.
func (q *Queue[E]) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		q.cond.Wait()
	}
}

// WaitContext blocks until the queue is non-empty or ctx is done,
// in which case it returns ctx.Err().
func (q *Queue[E]) WaitContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// popFrontLen removes the front item and returns how many remain.
func (q *Queue[E]) popFrontLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el := q.items.Front(); el != nil {
		q.items.Remove(el)
	}
	return q.items.Len()
}
