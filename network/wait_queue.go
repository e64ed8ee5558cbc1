package network

import (
	"container/list"
	"time"
)

type checkOutResult struct {
	conn *PooledConnection
	err  error
}

// waitQueueEntry is one pending checkout. All fields except ready are guarded
// by the pool mutex.
type waitQueueEntry struct {
	ready      chan checkOutResult
	timer      *time.Timer
	enqueuedAt time.Time

	// cancelled is set when the entry's timer or its caller's context gives
	// up; a cancelled entry is skipped by the admission pass.
	cancelled bool
	settled   bool
}

func newWaitQueueEntry() *waitQueueEntry {
	return &waitQueueEntry{
		ready:      make(chan checkOutResult, 1),
		enqueuedAt: time.Now(),
	}
}

// settle delivers the result exactly once and reports whether it did.
func (w *waitQueueEntry) settle(conn *PooledConnection, err error) bool {
	if w.settled {
		return false
	}
	w.settled = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.ready <- checkOutResult{conn: conn, err: err}
	return true
}

func (w *waitQueueEntry) dead() bool {
	return w.cancelled || w.settled
}

// waitQueue is the FIFO backlog of unmet checkout demand
type waitQueue struct {
	entries *list.List
}

func newWaitQueue() *waitQueue {
	return &waitQueue{entries: list.New()}
}

func (q *waitQueue) len() int { return q.entries.Len() }

func (q *waitQueue) push(w *waitQueueEntry) { q.entries.PushBack(w) }

func (q *waitQueue) front() *waitQueueEntry {
	if e := q.entries.Front(); e != nil {
		return e.Value.(*waitQueueEntry)
	}
	return nil
}

func (q *waitQueue) popFront() *waitQueueEntry {
	e := q.entries.Front()
	if e == nil {
		return nil
	}
	return q.entries.Remove(e).(*waitQueueEntry)
}
