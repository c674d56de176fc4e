package engine

import "sync"

// workQueue hands workflow ids to workers. An id is held by at most one
// worker at a time; pushing an id that is being driven marks it to run
// again once the worker is done with it.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []string
	queued map[string]bool
	active map[string]bool
	again  map[string]bool
	closed bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		queued: make(map[string]bool),
		active: make(map[string]bool),
		again:  make(map[string]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.queued[id] {
		return
	}
	if q.active[id] {
		q.again[id] = true
		return
	}
	q.queued[id] = true
	q.items = append(q.items, id)
	q.cond.Signal()
}

// pop blocks until an id is available or the queue is closed.
func (q *workQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	delete(q.queued, id)
	q.active[id] = true
	return id, true
}

func (q *workQueue) done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, id)
	if q.again[id] {
		delete(q.again, id)
		if !q.closed {
			q.queued[id] = true
			q.items = append(q.items, id)
			q.cond.Signal()
		}
	}
}

func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
