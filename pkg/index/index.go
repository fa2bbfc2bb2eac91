// Package index implements the concurrent indexing pipeline: the operation
// queue, the debounced commit scheduler, and the Index engine that owns the
// writer lifecycle, the single-active-drain invariant, and the
// create/rebuild/optimize operations.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andrewmckaskill/Examine/pkg/engine"
	"github.com/andrewmckaskill/Examine/pkg/value"
)

const (
	// DefaultInFlightTimeout bounds how long shutdown waits for in-flight
	// submissions before abandoning queued-but-unprocessed input.
	DefaultInFlightTimeout = 5 * time.Second

	// DefaultWriterTimeout bounds how long shutdown waits for writer
	// activity to settle. The writer must never close mid-write, so this
	// bound is longer than the submission bound.
	DefaultWriterTimeout = 90 * time.Second
)

// drainMode selects how the drain loop pulls batches.
type drainMode int

const (
	// drainNormal pulls non-blocking and stops when the queue is
	// momentarily empty or cancellation is requested.
	drainNormal drainMode = iota
	// drainShutdown blocks until the queue is completed and fully
	// drained, committing synchronously. Used only by Close.
	drainShutdown
)

// Index is the indexing engine for one logical index. Producers submit
// operations concurrently; at most one drain applies them to the
// underlying writer at a time.
type Index struct {
	factory engine.Factory
	types   *value.ValueTypeCollection
	logger  *slog.Logger

	async             bool
	commitInterval    time.Duration
	maxCommitInterval time.Duration
	inFlightTimeout   time.Duration
	writerTimeout     time.Duration
	validator         ValidatorFunc
	transform         TransformFunc
	rebuilder         RebuildFunc
	populator         func(ctx context.Context, category string) error
	sink              ErrorSink
	onComplete        CompleteFunc

	queue     *OperationQueue
	committer *committer

	// writerMu is the writer-creation lock; writer is the single live
	// write handle, created lazily and disposed exactly once.
	writerMu sync.RWMutex
	writer   engine.Writer
	exists   atomic.Bool

	// rebuildMu is the coarse write-intent lock: normal writes share it,
	// the forced-overwrite path excludes them.
	rebuildMu sync.Mutex

	// indexingMu guards the single-active-drain invariant.
	indexingMu sync.Mutex
	draining   bool
	drainDone  chan struct{}

	// cancelMu guards the shared cancellation token, reissued after a
	// forced rebuild.
	cancelMu sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc

	inFlight  atomic.Int64
	writerOps atomic.Int64
	closed    atomic.Bool

	drainLoops   atomic.Int64
	activeDrains atomic.Int64
	maxDrains    atomic.Int64
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	// DrainLoops is the number of times the drain loop has been entered.
	DrainLoops int64
	// MaxConcurrentDrains is the high-water mark of simultaneously
	// active drain loops; it stays at 1 when the single-active-drain
	// invariant holds.
	MaxConcurrentDrains int64
	// QueuedBatches is the number of batches waiting in the queue.
	QueuedBatches int
	// CommitPending reports whether a debounced commit is scheduled.
	CommitPending bool
}

// New creates an Index over the given engine location. The value-type
// collection governs field materialization; pass nil for a collection with
// only the standard strategies.
func New(factory engine.Factory, types *value.ValueTypeCollection, opts ...Option) *Index {
	if types == nil {
		types = value.NewValueTypeCollection()
	}
	i := &Index{
		factory:           factory,
		types:             types,
		logger:            slog.Default(),
		async:             true,
		commitInterval:    DefaultCommitInterval,
		maxCommitInterval: DefaultMaxCommitInterval,
		inFlightTimeout:   DefaultInFlightTimeout,
		writerTimeout:     DefaultWriterTimeout,
		queue:             NewOperationQueue(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.committer = newCommitter(i.commitInterval, i.maxCommitInterval, i.performCommit, i.logger)
	i.ctx, i.cancel = context.WithCancel(context.Background())
	return i
}

// WithPopulator registers the category reindex routine IndexAll delegates
// to after the category-level delete.
func WithPopulator(fn func(ctx context.Context, category string) error) Option {
	return func(i *Index) {
		i.populator = fn
	}
}

// token returns the current shared cancellation context.
func (i *Index) token() context.Context {
	i.cancelMu.Lock()
	defer i.cancelMu.Unlock()
	return i.ctx
}

// renewToken issues a fresh cancellation token so operations are accepted
// again after a forced rebuild.
func (i *Index) renewToken() {
	i.cancelMu.Lock()
	defer i.cancelMu.Unlock()
	i.ctx, i.cancel = context.WithCancel(context.Background())
}

// requestCancellation raises the shared cancellation signal.
func (i *Index) requestCancellation() {
	i.cancelMu.Lock()
	defer i.cancelMu.Unlock()
	i.cancel()
}

// cancelled reports whether cancellation is currently requested.
func (i *Index) cancelled() bool {
	return i.token().Err() != nil
}

// report funnels a failure into the error sink. In synchronous mode the
// error is also escalated to the caller; in asynchronous mode the sink is
// the only outlet and report returns nil.
func (i *Index) report(op, itemID string, cause error) error {
	ierr := &IndexError{Op: op, ItemID: itemID, Err: cause}
	i.logger.Warn("indexing error",
		slog.String("op", op),
		slog.String("item_id", itemID),
		slog.String("error", cause.Error()))
	if i.sink != nil {
		i.sink(ierr)
	}
	if i.async {
		return nil
	}
	return ierr
}

// EnsureIndex makes sure an index exists at the location. With
// forceOverwrite false this is an idempotent no-op once an index exists,
// and creation never blocks the caller: if another goroutine holds the
// writer-creation lock the call reports an error and returns. With
// forceOverwrite true all in-flight work is cancelled, queued operations
// are discarded, and the index is emptied.
func (i *Index) EnsureIndex(forceOverwrite bool) error {
	if i.closed.Load() {
		return i.report("ensure-index", "", ErrClosed)
	}
	if forceOverwrite {
		return i.forceOverwrite()
	}

	exists, err := i.factory.Exists()
	if err != nil {
		return i.report("ensure-index", "", err)
	}
	if exists {
		i.exists.Store(true)
		return nil
	}

	if !i.writerMu.TryLock() {
		return i.report("ensure-index", "",
			fmt.Errorf("writer-creation lock unavailable, another operation is creating the index: %w", ErrLocked))
	}
	defer i.writerMu.Unlock()

	// Re-check under the lock: another creator may have finished.
	exists, err = i.factory.Exists()
	if err != nil {
		return i.report("ensure-index", "", err)
	}
	if exists {
		i.exists.Store(true)
		return nil
	}

	return i.createIndexLocked()
}

// createIndexLocked creates an empty index. Caller holds writerMu.
func (i *Index) createIndexLocked() error {
	// A stale file lock from a dead process would make the create fail.
	if err := i.factory.Unlock(); err != nil {
		i.logger.Warn("failed to clear stale index lock", slog.String("error", err.Error()))
	}

	// Opening in create mode truncates prior contents; the writer is
	// closed immediately, creation is all we need here.
	w, err := i.factory.CreateWriter(true)
	if err != nil {
		return i.report("ensure-index", "", err)
	}
	if err := w.Close(); err != nil {
		return i.report("ensure-index", "", err)
	}
	i.exists.Store(true)
	i.logger.Info("index created")
	return nil
}

// forceOverwrite empties the index: cancel in-flight work, wait out the
// active drain, discard the queue, delete every document, commit, then
// issue a fresh cancellation token so future operations are accepted.
func (i *Index) forceOverwrite() error {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()

	i.requestCancellation()
	defer i.renewToken()

	// An active drain exits between batches once it observes the
	// cancellation; clearing the queue before it exits could let a
	// drained batch be applied after DeleteAll.
	i.awaitDrain()

	i.writerMu.Lock()
	defer i.writerMu.Unlock()

	discarded := i.queue.Discard()
	if discarded > 0 {
		i.logger.Info("discarded queued operations for overwrite",
			slog.Int("operations", discarded))
	}

	exists, err := i.factory.Exists()
	if err != nil {
		return i.report("overwrite", "", err)
	}
	if !exists {
		return i.createIndexLocked()
	}

	w, err := i.writerLocked()
	if err != nil {
		return i.report("overwrite", "", err)
	}

	ctx := context.Background()
	if err := w.DeleteAll(ctx); err != nil {
		return i.report("overwrite", "", err)
	}
	if err := w.Commit(ctx); err != nil {
		return i.report("overwrite", "", err)
	}
	i.exists.Store(true)
	i.logger.Info("index overwritten")
	return nil
}

// awaitDrain blocks until no drain loop is active.
func (i *Index) awaitDrain() {
	i.indexingMu.Lock()
	done := i.drainDone
	active := i.draining
	i.indexingMu.Unlock()
	if active && done != nil {
		<-done
	}
}

// RebuildIndex truncates the index and delegates to the registered
// rebuild routine. It fails fast when cancellation is already requested.
func (i *Index) RebuildIndex(ctx context.Context) error {
	if i.cancelled() {
		return i.report("rebuild", "", ErrCancelled)
	}
	if err := i.EnsureIndex(true); err != nil {
		return err
	}
	if i.rebuilder == nil {
		return nil
	}
	if err := i.rebuilder(ctx); err != nil {
		return i.report("rebuild", "", err)
	}
	return nil
}

// OptimizeIndex merges the index segments, blocking until the merge is
// done. It is a no-op when cancellation is requested or no index exists,
// and reports a locked error when the index is not currently writable.
func (i *Index) OptimizeIndex() error {
	if i.cancelled() {
		return nil
	}
	exists, err := i.factory.Exists()
	if err != nil {
		return i.report("optimize", "", err)
	}
	if !exists {
		return nil
	}

	if !i.writable() {
		return i.report("optimize", "", ErrLocked)
	}

	w, err := i.getWriter()
	if err != nil {
		return i.report("optimize", "", err)
	}
	i.writerOps.Add(1)
	defer i.writerOps.Add(-1)
	if err := w.Optimize(context.Background(), true); err != nil {
		return i.report("optimize", "", err)
	}
	return nil
}

// writable reports whether this instance can take the writer: either it
// already holds one, or no other process does.
func (i *Index) writable() bool {
	i.writerMu.RLock()
	held := i.writer != nil
	i.writerMu.RUnlock()
	if held {
		return true
	}
	locked, err := i.factory.IsLocked()
	if err != nil {
		i.logger.Warn("failed to probe index lock", slog.String("error", err.Error()))
		return false
	}
	return !locked
}

// IndexItems enqueues the value sets for addition and triggers queue
// processing. In synchronous mode the call drains on the caller's thread
// and surfaces any failure; in asynchronous mode failures go to the error
// sink only.
func (i *Index) IndexItems(sets ...*value.ValueSet) error {
	batch := make([]value.IndexOperation, 0, len(sets))
	for _, vs := range sets {
		batch = append(batch, value.AddOperation(vs))
	}
	return i.submit(batch)
}

// DeleteFromIndex enqueues delete-by-ID operations and triggers queue
// processing.
func (i *Index) DeleteFromIndex(ids ...string) error {
	batch := make([]value.IndexOperation, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, value.DeleteOperation(id))
	}
	return i.submit(batch)
}

// IndexAll re-indexes one category: every document in the category is
// deleted, then the registered populate routine resubmits current data.
func (i *Index) IndexAll(ctx context.Context, category string) error {
	if err := i.submit([]value.IndexOperation{value.DeleteCategoryOperation(category)}); err != nil {
		return err
	}
	if i.populator == nil {
		return nil
	}
	if err := i.populator(ctx, category); err != nil {
		return i.report("index-all", "", err)
	}
	return nil
}

// submit appends one batch and triggers processing. The in-flight counter
// covers the window between entry and the trigger returning; shutdown
// waits for it, nothing else depends on it.
func (i *Index) submit(batch []value.IndexOperation) error {
	if len(batch) == 0 {
		return nil
	}
	if i.closed.Load() {
		return i.report("enqueue", firstID(batch), ErrClosed)
	}

	i.inFlight.Add(1)
	defer i.inFlight.Add(-1)

	i.rebuildMu.Lock()
	err := i.queue.Enqueue(batch)
	i.rebuildMu.Unlock()
	if err != nil {
		return i.report("enqueue", firstID(batch), err)
	}

	return i.SafelyProcessQueueItems()
}

func firstID(batch []value.IndexOperation) string {
	if len(batch) > 0 {
		return batch[0].Item.ID
	}
	return ""
}

// SafelyProcessQueueItems triggers queue draining. In synchronous mode it
// drains immediately on the caller's thread. In asynchronous mode a
// guarded check-then-launch ensures at most one drain task is active;
// further triggers while one is active are no-ops because the active drain
// picks up everything queued before it exits.
func (i *Index) SafelyProcessQueueItems() error {
	if !i.async {
		i.indexingMu.Lock()
		if i.draining {
			// A concurrent synchronous caller is already draining; it
			// will consume this submission too.
			i.indexingMu.Unlock()
			return nil
		}
		i.draining = true
		done := make(chan struct{})
		i.drainDone = done
		i.indexingMu.Unlock()

		err := i.drain(drainNormal)
		i.finishDrain(done)

		// A concurrent producer that hit the guard may have enqueued
		// after the final empty check; consume that too.
		if err == nil && !i.closed.Load() && !i.cancelled() && i.queue.Len() > 0 {
			return i.SafelyProcessQueueItems()
		}
		return err
	}

	i.indexingMu.Lock()
	if i.draining {
		i.indexingMu.Unlock()
		return nil
	}
	i.draining = true
	done := make(chan struct{})
	i.drainDone = done
	i.indexingMu.Unlock()

	go func() {
		// drain reports its own failures; in async mode nothing escalates.
		err := i.drain(drainNormal)
		i.finishDrain(done)

		// Submissions that arrived after the final empty check were
		// no-ops against the guard; pick them up now. A failed drain does
		// not retrigger, otherwise a persistent failure would spin.
		if err == nil && !i.closed.Load() && !i.cancelled() && i.queue.Len() > 0 {
			_ = i.SafelyProcessQueueItems()
		}
	}()
	return nil
}

// finishDrain clears the single-active-drain guard.
func (i *Index) finishDrain(done chan struct{}) {
	i.indexingMu.Lock()
	i.draining = false
	if i.drainDone == done {
		i.drainDone = nil
	}
	i.indexingMu.Unlock()
	close(done)
}

// drain loops on forceProcessQueueItems until it reports zero documents,
// so a burst of enqueues made while draining is consumed before the
// Indexing flag clears.
func (i *Index) drain(mode drainMode) error {
	i.drainLoops.Add(1)
	active := i.activeDrains.Add(1)
	for {
		highWater := i.maxDrains.Load()
		if active <= highWater || i.maxDrains.CompareAndSwap(highWater, active) {
			break
		}
	}
	defer i.activeDrains.Add(-1)

	var firstErr error
	for {
		n, err := i.forceProcessQueueItems(mode)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if n == 0 {
			break
		}
	}
	return firstErr
}

// forceProcessQueueItems applies queued batches to the writer and returns
// the number of documents actually materialized. Vetoed adds and deletes
// are not counted.
func (i *Index) forceProcessQueueItems(mode drainMode) (int, error) {
	if !i.exists.Load() {
		exists, err := i.factory.Exists()
		if err != nil {
			return 0, i.report("drain", "", err)
		}
		if !exists {
			return 0, i.report("drain", "", ErrNoIndex)
		}
		i.exists.Store(true)
	}

	// Another process holding the write lock is reported, not waited out.
	if !i.writable() {
		return 0, i.report("drain", "", ErrLocked)
	}

	w, err := i.getWriter()
	if err != nil {
		return 0, i.report("drain", "", err)
	}

	ctx := i.token()
	var (
		processed int
		applied   int
		firstErr  error
	)
	for {
		var (
			batch []value.IndexOperation
			ok    bool
		)
		if mode == drainShutdown {
			batch, ok = i.queue.DequeueOrWait()
		} else {
			if ctx.Err() != nil {
				break
			}
			batch, ok = i.queue.TryDequeue()
		}
		if !ok {
			break
		}
		applied += len(batch)
		for _, op := range batch {
			n, err := i.processOperation(ctx, w, op)
			processed += n
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if mode == drainShutdown || !i.async {
		// Synchronous and shutdown drains commit on the spot and wait
		// for the engine to settle instead of debouncing.
		i.writerOps.Add(1)
		err := w.Commit(context.Background())
		i.writerOps.Add(-1)
		if err != nil {
			if rerr := i.report("commit", "", err); rerr != nil && firstErr == nil {
				firstErr = rerr
			}
		}
	} else if applied > 0 {
		// Deletes need the commit as much as adds do, so the scheduler
		// is poked for any applied operation, not just materialized docs.
		i.committer.ScheduleCommit(ctx)
	}

	return processed, firstErr
}

// processOperation applies one operation. Failures are reported and do not
// abort the rest of the batch.
func (i *Index) processOperation(ctx context.Context, w engine.Writer, op value.IndexOperation) (int, error) {
	switch op.Op {
	case value.OpDelete:
		return 0, i.applyDelete(ctx, w, op.Item)
	case value.OpAdd:
		return i.applyAdd(ctx, w, op.Item)
	default:
		return 0, i.report("drain", op.Item.ID, fmt.Errorf("unknown operation %d", op.Op))
	}
}

// applyDelete removes by identity, or by category when the item carries no
// ID. Delete errors are reported but non-fatal to the batch.
func (i *Index) applyDelete(ctx context.Context, w engine.Writer, item value.IndexItem) error {
	term := engine.IDTerm(item.ID)
	if item.ID == "" {
		term = engine.CategoryTerm(item.Category)
	}

	i.writerOps.Add(1)
	err := w.DeleteDocuments(ctx, term)
	i.writerOps.Add(-1)
	if err != nil {
		return i.report("delete", item.ID, err)
	}
	if i.onComplete != nil {
		i.onComplete(IndexedItem{ID: item.ID, Category: item.Category}, value.OpDelete)
	}
	return nil
}

// applyAdd materializes the value set into an engine document and upserts
// it. A validation failure becomes a forced delete so an invalid record is
// never left indexed; a transform veto drops the operation silently.
func (i *Index) applyAdd(ctx context.Context, w engine.Writer, item value.IndexItem) (int, error) {
	vs := item.ValueSet
	if vs == nil {
		return 0, i.report("add", item.ID, fmt.Errorf("add operation carries no value set"))
	}

	if i.validator != nil {
		if verr := i.validator(vs); verr != nil {
			i.logger.Debug("record failed validation, removing from index",
				slog.String("item_id", vs.ID),
				slog.String("reason", verr.Error()))
			return 0, i.applyDelete(ctx, w, value.ForDeletion(vs.ID))
		}
	}

	doc := engine.Document{}
	i.types.Resolve(engine.FieldID).AddValue(doc, engine.FieldID, vs.ID)
	i.types.Resolve(engine.FieldCategory).AddValue(doc, engine.FieldCategory, vs.Category)
	i.types.Resolve(engine.FieldItemType).AddValue(doc, engine.FieldItemType, vs.ItemType)
	for field, vals := range vs.Values {
		vt := i.types.Resolve(field)
		for _, raw := range vals {
			vt.AddValue(doc, field, raw)
		}
	}

	if i.transform != nil && !i.transform(vs, doc) {
		if i.onComplete != nil {
			i.onComplete(IndexedItem{}, value.OpAdd)
		}
		return 0, nil
	}

	i.writerOps.Add(1)
	err := w.UpdateDocument(ctx, engine.IDTerm(vs.ID), doc)
	i.writerOps.Add(-1)
	if err != nil {
		return 0, i.report("add", vs.ID, err)
	}
	if i.onComplete != nil {
		i.onComplete(IndexedItem{ID: vs.ID, Category: vs.Category}, value.OpAdd)
	}
	return 1, nil
}

// getWriter returns the single live writer, creating it lazily behind
// double-checked locking.
func (i *Index) getWriter() (engine.Writer, error) {
	i.writerMu.RLock()
	w := i.writer
	i.writerMu.RUnlock()
	if w != nil {
		return w, nil
	}

	i.writerMu.Lock()
	defer i.writerMu.Unlock()
	return i.writerLocked()
}

// writerLocked creates the writer if needed. Caller holds writerMu.
func (i *Index) writerLocked() (engine.Writer, error) {
	if i.writer != nil {
		return i.writer, nil
	}
	w, err := i.factory.CreateWriter(false)
	if err != nil {
		return nil, err
	}
	i.writer = w
	return w, nil
}

// performCommit is the commit scheduler's timer action: exactly one commit
// on the writer.
func (i *Index) performCommit() {
	i.writerMu.RLock()
	w := i.writer
	i.writerMu.RUnlock()
	if w == nil {
		return
	}
	i.writerOps.Add(1)
	defer i.writerOps.Add(-1)
	if err := w.Commit(context.Background()); err != nil {
		_ = i.report("commit", "", err)
		return
	}
	i.logger.Debug("index committed")
}

// Exists reports whether the index is present at the location.
func (i *Index) Exists() (bool, error) {
	if i.exists.Load() {
		return true, nil
	}
	return i.factory.Exists()
}

// Count returns the number of committed documents, restricted to a
// category when one is given.
func (i *Index) Count(ctx context.Context, category string) (uint64, error) {
	s, err := i.factory.OpenSearcher()
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.Close() }()
	return s.Count(ctx, category)
}

// Stats returns a snapshot of the pipeline counters.
func (i *Index) Stats() Stats {
	return Stats{
		DrainLoops:          i.drainLoops.Load(),
		MaxConcurrentDrains: i.maxDrains.Load(),
		QueuedBatches:       i.queue.Len(),
		CommitPending:       i.committer.Pending(),
	}
}

// Close shuts the pipeline down: the queue stops accepting work, in-flight
// submissions get a short bounded wait, the remaining queue is drained to
// completion, writer activity gets a longer bounded wait, a final commit
// flushes anything pending, and the writer is disposed exactly once.
func (i *Index) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}

	i.queue.CompleteAdding()

	if err := waitForZero(ctx, &i.inFlight, i.inFlightTimeout); err != nil {
		i.logger.Warn("in-flight submissions did not settle, abandoning queued input",
			slog.Int64("in_flight", i.inFlight.Load()))
	}

	// Stop the active drain between batches, then take over its work.
	i.requestCancellation()
	i.awaitDrain()

	exists, _ := i.factory.Exists()
	if exists && i.queue.Len() > 0 {
		if _, err := i.forceProcessQueueItems(drainShutdown); err != nil {
			i.logger.Warn("shutdown drain failed", slog.String("error", err.Error()))
		}
	}

	if err := waitForZero(ctx, &i.writerOps, i.writerTimeout); err != nil {
		return fmt.Errorf("writer activity did not settle before close: %w", err)
	}

	i.committer.Close()

	i.writerMu.Lock()
	defer i.writerMu.Unlock()
	if i.writer != nil {
		w := i.writer
		i.writer = nil
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close writer: %w", err)
		}
	}
	i.logger.Info("index closed")
	return nil
}

// waitForZero polls the counter with exponential backoff until it reaches
// zero or the bound elapses.
func waitForZero(ctx context.Context, counter *atomic.Int64, timeout time.Duration) error {
	if counter.Load() == 0 {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = timeout
	return backoff.Retry(func() error {
		if n := counter.Load(); n != 0 {
			return fmt.Errorf("%d operations still in flight", n)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}
