package index

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueCompleted is reported when an operation is submitted after
	// graceful shutdown has closed the queue. The operation is dropped,
	// not retried.
	ErrQueueCompleted = errors.New("operation queue is completed, item not queued")

	// ErrCancelled is reported when an operation is refused because
	// cancellation has been requested.
	ErrCancelled = errors.New("cancellation requested")

	// ErrLocked is reported when the index is lock-held by another
	// process and the operation cannot proceed.
	ErrLocked = errors.New("index is locked by another process")

	// ErrClosed is reported for operations submitted after Close.
	ErrClosed = errors.New("index is closed")

	// ErrNoIndex is reported when an operation requires an existing
	// index and none is present.
	ErrNoIndex = errors.New("index does not exist")
)

// IndexError carries the context the error sink receives for every
// reported failure: what was being done, the item involved when there was
// one, and the underlying cause.
type IndexError struct {
	// Op is the pipeline operation that failed, e.g. "add" or "commit".
	Op string
	// ItemID is the ID of the item being processed, empty when the
	// failure is not tied to one item.
	ItemID string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("index %s failed for item %q: %v", e.Op, e.ItemID, e.Err)
	}
	return fmt.Sprintf("index %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// ErrorSink receives every reported failure. In synchronous mode reported
// errors are also escalated to the calling operation; in asynchronous mode
// the sink is the only outlet.
type ErrorSink func(err *IndexError)
