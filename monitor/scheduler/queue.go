package scheduler

import (
	"errors"
	"time"
)

// ErrQueueFull is returned by Push when the queue's hard capacity is
// exhausted. Under normal operation the overwhelm gate stops the producer
// long before this; the cap only guarantees Push can never block shutdown.
var ErrQueueFull = errors.New("check queue is full")

// defaultQueueCapacity bounds the channel backing the queue.
const defaultQueueCapacity = 8192

// CheckQueue is the FIFO probe queue between the scheduling loop and the
// worker pool.
type CheckQueue struct {
	ch chan CheckTask
}

// NewCheckQueue creates a queue. capacity <= 0 selects the default.
func NewCheckQueue(capacity int) *CheckQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &CheckQueue{ch: make(chan CheckTask, capacity)}
}

// Push enqueues a task without blocking.
func (q *CheckQueue) Push(task CheckTask) error {
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// PopTimeout dequeues the next task, waiting at most d so callers can
// observe shutdown between attempts.
func (q *CheckQueue) PopTimeout(d time.Duration) (CheckTask, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case task := <-q.ch:
		return task, true
	case <-timer.C:
		return CheckTask{}, false
	}
}

// Len returns the current queue depth.
func (q *CheckQueue) Len() int {
	return len(q.ch)
}
