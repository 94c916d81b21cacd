package utils

import (
	"container/list"
	"sync"
)

// SerialQueue runs submitted tasks one at a time, in submission order,
// on a background goroutine. Submit never blocks on a running task.
type SerialQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   list.List
	closed  bool
	done    chan struct{}
	started bool
}

func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the goroutine draining the queue.
func (q *SerialQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}
	q.started = true
	go q.run()
}

// Submit appends a task. Tasks submitted after Close are dropped and
// false is returned.
func (q *SerialQueue) Submit(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks.PushBack(task)
	q.cond.Signal()
	return true
}

// Close stops accepting tasks. Tasks already queued still run.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Signal()
}

// Done is closed once the queue is closed and all tasks have run.
func (q *SerialQueue) Done() <-chan struct{} {
	return q.done
}

// Wait blocks until Done is closed.
func (q *SerialQueue) Wait() {
	<-q.done
}

func (q *SerialQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.tasks.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.tasks.Len() == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks.Remove(q.tasks.Front()).(func())
		q.mu.Unlock()

		task()
	}
}
