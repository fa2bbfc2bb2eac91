package index

import (
	"sync"

	"github.com/andrewmckaskill/Examine/pkg/value"
)

// OperationQueue is an ordered, multi-producer queue of operation batches.
// A batch is indivisible: its operations are applied in sequence order, and
// batches are consumed in enqueue order. The queue is unbounded; the write
// path stays available and memory is the only backpressure.
type OperationQueue struct {
	mu        sync.Mutex
	notEmpty  *sync.Cond
	batches   [][]value.IndexOperation
	completed bool
}

// NewOperationQueue creates an empty queue.
func NewOperationQueue() *OperationQueue {
	q := &OperationQueue{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a batch. After CompleteAdding it returns
// ErrQueueCompleted and the batch is dropped.
func (q *OperationQueue) Enqueue(batch []value.IndexOperation) error {
	if len(batch) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.completed {
		return ErrQueueCompleted
	}
	q.batches = append(q.batches, batch)
	q.notEmpty.Signal()
	return nil
}

// TryDequeue removes and returns the oldest batch without blocking. It
// reports false when the queue is momentarily empty.
func (q *OperationQueue) TryDequeue() ([]value.IndexOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

// DequeueOrWait removes and returns the oldest batch, blocking until one
// arrives or CompleteAdding drains the queue dry. It reports false only
// when the queue is completed and empty. Used by the shutdown drain.
func (q *OperationQueue) DequeueOrWait() ([]value.IndexOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.batches) == 0 && !q.completed {
		q.notEmpty.Wait()
	}
	return q.dequeueLocked()
}

func (q *OperationQueue) dequeueLocked() ([]value.IndexOperation, bool) {
	if len(q.batches) == 0 {
		return nil, false
	}
	batch := q.batches[0]
	q.batches[0] = nil
	q.batches = q.batches[1:]
	return batch, true
}

// CompleteAdding closes the queue to producers. Queued batches remain
// consumable; waiting consumers are woken.
func (q *OperationQueue) CompleteAdding() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = true
	q.notEmpty.Broadcast()
}

// Completed reports whether CompleteAdding has been called.
func (q *OperationQueue) Completed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// Discard drops every queued batch without applying it and returns the
// number of operations thrown away. Used by the forced-overwrite path.
func (q *OperationQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for _, batch := range q.batches {
		n += len(batch)
	}
	q.batches = nil
	return n
}

// Len returns the number of queued batches.
func (q *OperationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}
