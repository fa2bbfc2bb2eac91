package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/andrewmckaskill/Examine/pkg/engine"
	"github.com/andrewmckaskill/Examine/pkg/value"
)

// ValidatorFunc decides whether a ValueSet may be indexed. A non-nil error
// is not treated as a failure: the record is force-deleted instead, so an
// invalid record is never left behind in the index.
type ValidatorFunc func(vs *value.ValueSet) error

// TransformFunc is invoked once per add with the materialized document,
// after all fields have been encoded. It may mutate the document. Returning
// false vetoes the write: nothing is written and the operation is dropped
// without error.
type TransformFunc func(vs *value.ValueSet, doc engine.Document) bool

// RebuildFunc repopulates the index after a forced rebuild has emptied it.
// It is registered by the host; the pipeline only sequences the call.
type RebuildFunc func(ctx context.Context) error

// IndexedItem reports one completed operation. The zero value is the
// sentinel for an operation that was cancelled mid-pipeline (vetoed by the
// transform hook) and must not be counted as processed.
type IndexedItem struct {
	ID       string
	Category string
}

// Empty reports whether the item is the cancelled sentinel.
func (it IndexedItem) Empty() bool {
	return it == IndexedItem{}
}

// CompleteFunc observes every applied operation.
type CompleteFunc func(item IndexedItem, op value.Operation)

// Option configures an Index.
type Option func(*Index)

// WithSync makes the pipeline drain on the caller's thread. Reported
// errors are escalated to hard failures of the calling operation. The
// default is asynchronous draining.
func WithSync() Option {
	return func(i *Index) {
		i.async = false
	}
}

// WithCommitInterval sets the commit debounce quiet period.
func WithCommitInterval(d time.Duration) Option {
	return func(i *Index) {
		i.commitInterval = d
	}
}

// WithMaxCommitInterval sets the hard upper bound on commit latency under
// sustained writes.
func WithMaxCommitInterval(d time.Duration) Option {
	return func(i *Index) {
		i.maxCommitInterval = d
	}
}

// WithValidator registers the record validator.
func WithValidator(v ValidatorFunc) Option {
	return func(i *Index) {
		i.validator = v
	}
}

// WithTransform registers the transform/veto hook.
func WithTransform(t TransformFunc) Option {
	return func(i *Index) {
		i.transform = t
	}
}

// WithErrorSink registers the sink that receives every reported failure.
func WithErrorSink(sink ErrorSink) Option {
	return func(i *Index) {
		i.sink = sink
	}
}

// WithOperationComplete registers an observer for applied operations.
func WithOperationComplete(fn CompleteFunc) Option {
	return func(i *Index) {
		i.onComplete = fn
	}
}

// WithRebuilder registers the full-reindex routine RebuildIndex delegates
// to after truncating the index.
func WithRebuilder(fn RebuildFunc) Option {
	return func(i *Index) {
		i.rebuilder = fn
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		i.logger = logger
	}
}

// WithShutdownTimeouts overrides the two shutdown bounds: the short wait
// for in-flight submissions and the longer wait for writer activity to
// settle before the writer is closed.
func WithShutdownTimeouts(inFlight, writer time.Duration) Option {
	return func(i *Index) {
		i.inFlightTimeout = inFlight
		i.writerTimeout = writer
	}
}
