package index

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewmckaskill/Examine/pkg/value"
)

func batchOf(ids ...string) []value.IndexOperation {
	ops := make([]value.IndexOperation, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, value.DeleteOperation(id))
	}
	return ops
}

func TestOperationQueue_FIFO(t *testing.T) {
	// Given: three batches enqueued in order
	q := NewOperationQueue()
	require.NoError(t, q.Enqueue(batchOf("a")))
	require.NoError(t, q.Enqueue(batchOf("b", "c")))
	require.NoError(t, q.Enqueue(batchOf("d")))

	// Then: they dequeue in the same order
	b, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", b[0].Item.ID)

	b, ok = q.TryDequeue()
	require.True(t, ok)
	require.Len(t, b, 2)
	assert.Equal(t, "b", b[0].Item.ID)
	assert.Equal(t, "c", b[1].Item.ID)

	b, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "d", b[0].Item.ID)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestOperationQueue_EmptyBatchIgnored(t *testing.T) {
	q := NewOperationQueue()
	require.NoError(t, q.Enqueue(nil))
	assert.Equal(t, 0, q.Len())
}

func TestOperationQueue_EnqueueAfterCompleteAdding(t *testing.T) {
	q := NewOperationQueue()
	q.CompleteAdding()

	err := q.Enqueue(batchOf("a"))

	assert.ErrorIs(t, err, ErrQueueCompleted)
	assert.True(t, q.Completed())
	assert.Equal(t, 0, q.Len())
}

func TestOperationQueue_QueuedBatchesSurviveCompleteAdding(t *testing.T) {
	// Given: a batch enqueued before the queue closes
	q := NewOperationQueue()
	require.NoError(t, q.Enqueue(batchOf("a")))
	q.CompleteAdding()

	// Then: the batch is still consumable
	b, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", b[0].Item.ID)
}

func TestOperationQueue_DequeueOrWaitUnblocksOnEnqueue(t *testing.T) {
	q := NewOperationQueue()
	got := make(chan []value.IndexOperation, 1)

	go func() {
		b, ok := q.DequeueOrWait()
		if ok {
			got <- b
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(batchOf("x")))

	select {
	case b := <-got:
		assert.Equal(t, "x", b[0].Item.ID)
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestOperationQueue_DequeueOrWaitUnblocksOnCompleteAdding(t *testing.T) {
	q := NewOperationQueue()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.DequeueOrWait()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.CompleteAdding()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestOperationQueue_DiscardCountsOperations(t *testing.T) {
	q := NewOperationQueue()
	require.NoError(t, q.Enqueue(batchOf("a", "b")))
	require.NoError(t, q.Enqueue(batchOf("c")))

	n := q.Discard()

	assert.Equal(t, 3, n)
	assert.Equal(t, 0, q.Len())
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestOperationQueue_ConcurrentProducers(t *testing.T) {
	// Given: many producers enqueueing one batch each
	q := NewOperationQueue()
	const producers = 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(batchOf("id"))
		}()
	}
	wg.Wait()

	// Then: every batch is accounted for
	assert.Equal(t, producers, q.Len())
}
