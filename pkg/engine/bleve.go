package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/andrewmckaskill/Examine/pkg/lock"
)

// WriterLockName is the named lock guarding writer creation for a
// location. It is the cross-process exclusion primitive: two processes
// racing to open a writer will have one fail TryObtain and back off.
const WriterLockName = "writer.lock"

// BleveFactory opens bleve indexes at one storage location and implements
// the Factory contract. The underlying bleve.Index handle serves both
// reads and writes, so the factory refcounts it across the writer and any
// searchers instead of opening the directory twice.
type BleveFactory struct {
	path  string
	locks lock.Factory

	mu     sync.Mutex
	handle *bleveHandle
}

// bleveHandle is the shared, refcounted bleve.Index for a location.
type bleveHandle struct {
	idx  bleve.Index
	refs int
}

// NewBleveFactory creates a factory for the index at path. An empty path
// opens an in-memory index, used by tests. The lock factory guards writer
// creation; pass nil to default to file locks next to the index.
func NewBleveFactory(path string, locks lock.Factory) *BleveFactory {
	if locks == nil && path != "" {
		locks = lock.NewFlockFactory(filepath.Dir(path))
	}
	return &BleveFactory{path: path, locks: locks}
}

// Path returns the index location.
func (f *BleveFactory) Path() string {
	return f.path
}

// buildIndexMapping maps the reserved identity fields to the keyword
// analyzer so term lookups by ID and category are exact, and leaves every
// other field on the standard analyzer.
func buildIndexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	for _, field := range []string{FieldID, FieldCategory, FieldItemType} {
		m.DefaultMapping.AddFieldMappingsAt(field, kw)
	}
	return m
}

// isCorruptionError reports whether a bleve open failure indicates a
// damaged index rather than a missing one.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// acquire opens (or reuses) the shared bleve.Index. When overwrite is true
// any existing handle is closed and the on-disk index is recreated empty.
func (f *BleveFactory) acquire(overwrite bool) (*bleveHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if overwrite && f.handle != nil {
		// Stale readers against the old handle are invalidated; the
		// pipeline closes its writer before forcing a recreate.
		_ = f.closeHandleLocked()
	}

	if f.handle != nil {
		f.handle.refs++
		return f.handle, nil
	}

	idx, err := f.open(overwrite)
	if err != nil {
		return nil, err
	}
	f.handle = &bleveHandle{idx: idx, refs: 1}
	return f.handle, nil
}

func (f *BleveFactory) open(overwrite bool) (bleve.Index, error) {
	if f.path == "" {
		return bleve.NewMemOnly(buildIndexMapping())
	}

	if overwrite {
		if err := os.RemoveAll(f.path); err != nil {
			return nil, fmt.Errorf("failed to truncate index at %s: %w", f.path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx, err := bleve.Open(f.path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(f.path, buildIndexMapping())
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("index corrupted, recreating",
			slog.String("path", f.path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(f.path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted and cannot be cleared: %w (original: %v)", removeErr, err)
		}
		idx, err = bleve.New(f.path, buildIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", f.path, err)
	}
	return idx, nil
}

// release drops one reference to the shared handle, closing the underlying
// index when the last reference goes away.
func (f *BleveFactory) release(h *bleveHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle != h {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	if f.path == "" {
		// An in-memory index has no on-disk state to reopen from; the
		// handle stays alive for the factory's lifetime.
		return nil
	}
	return f.closeHandleLocked()
}

func (f *BleveFactory) closeHandleLocked() error {
	if f.handle == nil {
		return nil
	}
	idx := f.handle.idx
	f.handle = nil
	if err := idx.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	return nil
}

// Close releases any handle the factory still holds. In-memory indexes
// lose their contents here.
func (f *BleveFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeHandleLocked()
}

// Exists implements Factory.
func (f *BleveFactory) Exists() (bool, error) {
	if f.path == "" {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.handle != nil, nil
	}
	if _, err := os.Stat(filepath.Join(f.path, "index_meta.json")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsLocked implements Factory. It probes the writer-creation lock without
// holding it.
func (f *BleveFactory) IsLocked() (bool, error) {
	if f.locks == nil {
		return false, nil
	}
	l := f.locks.MakeLock(WriterLockName)
	ok, err := l.TryObtain()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return false, l.Release()
}

// Unlock implements Factory. It force-clears a stale writer lock.
func (f *BleveFactory) Unlock() error {
	if f.locks == nil {
		return nil
	}
	return f.locks.ClearLock(WriterLockName)
}

// ErrWriterLocked is returned when another process holds the location's
// writer lock.
var ErrWriterLocked = fmt.Errorf("index writer is locked by another process")

// CreateWriter implements Factory. The writer takes the location's writer
// lock for its whole lifetime and stages mutations in a bleve batch;
// Commit executes the batch, which is the point writes become durable and
// visible to searchers.
func (f *BleveFactory) CreateWriter(overwrite bool) (Writer, error) {
	var held lock.Lock
	if f.locks != nil {
		held = f.locks.MakeLock(WriterLockName)
		ok, err := held.TryObtain()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrWriterLocked
		}
	}

	h, err := f.acquire(overwrite)
	if err != nil {
		if held != nil {
			_ = held.Release()
		}
		return nil, err
	}
	w := &bleveWriter{factory: f, handle: h, lock: held}
	w.reset()
	return w, nil
}

// OpenSearcher implements Factory.
func (f *BleveFactory) OpenSearcher() (Searcher, error) {
	exists, err := f.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no index at %s", f.path)
	}
	h, err := f.acquire(false)
	if err != nil {
		return nil, err
	}
	return &bleveSearcher{factory: f, handle: h}, nil
}

// bleveWriter is the exclusive write handle. All calls are serialized by
// the pipeline; the internal mutex only protects against Close racing a
// late commit.
type bleveWriter struct {
	factory *BleveFactory
	handle  *bleveHandle
	lock    lock.Lock

	mu      sync.Mutex
	batch   *bleve.Batch
	pending map[string]string // staged doc ID -> category
	closed  bool
}

func (w *bleveWriter) reset() {
	w.batch = w.handle.idx.NewBatch()
	w.pending = make(map[string]string)
}

// toBleveDoc converts the pipeline document into what bleve indexes:
// single values are unwrapped, Keyword markers become plain strings (the
// reserved fields are statically mapped to the keyword analyzer).
func toBleveDoc(doc Document) map[string]any {
	out := make(map[string]any, len(doc))
	for field, vals := range doc {
		converted := make([]any, len(vals))
		for i, v := range vals {
			if kw, ok := v.(Keyword); ok {
				converted[i] = string(kw)
			} else {
				converted[i] = v
			}
		}
		if len(converted) == 1 {
			out[field] = converted[0]
		} else {
			out[field] = converted
		}
	}
	return out
}

// UpdateDocument implements Writer. Staging under the term value makes the
// write an upsert: executing the batch replaces any previous document with
// the same ID.
func (w *bleveWriter) UpdateDocument(ctx context.Context, term Term, doc Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	if err := w.batch.Index(term.Value, toBleveDoc(doc)); err != nil {
		return fmt.Errorf("failed to stage document %s: %w", term.Value, err)
	}
	category := ""
	if vals := doc[FieldCategory]; len(vals) > 0 {
		switch v := vals[0].(type) {
		case Keyword:
			category = string(v)
		case string:
			category = v
		}
	}
	w.pending[term.Value] = category
	return nil
}

// DeleteDocuments implements Writer. Identity terms delete one staged or
// committed document; category terms delete every committed document in
// the category plus any staged adds for it.
func (w *bleveWriter) DeleteDocuments(ctx context.Context, term Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	if term.Field == FieldID {
		w.batch.Delete(term.Value)
		delete(w.pending, term.Value)
		return nil
	}

	ids, err := w.committedIDs(ctx, &term)
	if err != nil {
		return fmt.Errorf("failed to find documents for %s=%s: %w", term.Field, term.Value, err)
	}
	for _, id := range ids {
		w.batch.Delete(id)
		delete(w.pending, id)
	}
	if term.Field == FieldCategory {
		for id, category := range w.pending {
			if category == term.Value {
				w.batch.Delete(id)
				delete(w.pending, id)
			}
		}
	}
	return nil
}

// DeleteAll implements Writer.
func (w *bleveWriter) DeleteAll(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	w.reset()
	ids, err := w.committedIDs(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	for _, id := range ids {
		w.batch.Delete(id)
	}
	return nil
}

// committedIDs returns the IDs of committed documents matching the term,
// or all committed documents when term is nil.
func (w *bleveWriter) committedIDs(ctx context.Context, term *Term) ([]string, error) {
	count, err := w.handle.idx.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	var req *bleve.SearchRequest
	if term == nil {
		req = bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	} else {
		q := bleve.NewTermQuery(term.Value)
		q.SetField(term.Field)
		req = bleve.NewSearchRequest(q)
	}
	req.Size = int(count)

	result, err := w.handle.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Commit implements Writer. Executing the staged batch is the durability
// and visibility barrier: bleve persists the batch and subsequent searches
// see it.
func (w *bleveWriter) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.handle.idx.Batch(w.batch); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	w.reset()
	return nil
}

// Optimize implements Writer. Bleve merges segments continuously in the
// background, so the only useful work here is flushing anything staged.
func (w *bleveWriter) Optimize(ctx context.Context, blocking bool) error {
	return w.Commit(ctx)
}

// Close implements Writer. Staged-but-uncommitted mutations are discarded.
func (w *bleveWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.factory.release(w.handle)
	if w.lock != nil {
		if lerr := w.lock.Release(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}

// bleveSearcher reads committed state through the shared handle.
type bleveSearcher struct {
	factory *BleveFactory
	handle  *bleveHandle

	mu     sync.Mutex
	closed bool
}

// Search implements Searcher.
func (s *bleveSearcher) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	q := buildQuery(req)

	sr := bleve.NewSearchRequest(q)
	if req.Limit > 0 {
		sr.Size = req.Limit
	}
	sr.Fields = []string{FieldCategory}

	result, err := s.handle.idx.SearchInContext(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{
			ID:       h.ID,
			Category: fieldString(h.Fields[FieldCategory]),
			Score:    h.Score,
		})
	}
	return hits, nil
}

func buildQuery(req SearchRequest) query.Query {
	var parts []query.Query
	if strings.TrimSpace(req.Query) != "" {
		parts = append(parts, bleve.NewQueryStringQuery(req.Query))
	}
	if req.Category != "" {
		tq := bleve.NewTermQuery(req.Category)
		tq.SetField(FieldCategory)
		parts = append(parts, tq)
	}
	switch len(parts) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return parts[0]
	default:
		return bleve.NewConjunctionQuery(parts...)
	}
}

func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// Fields implements Searcher.
func (s *bleveSearcher) Fields() ([]string, error) {
	return s.handle.idx.Fields()
}

// Count implements Searcher.
func (s *bleveSearcher) Count(ctx context.Context, category string) (uint64, error) {
	if category == "" {
		return s.handle.idx.DocCount()
	}
	tq := bleve.NewTermQuery(category)
	tq.SetField(FieldCategory)
	sr := bleve.NewSearchRequest(tq)
	sr.Size = 0
	result, err := s.handle.idx.SearchInContext(ctx, sr)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return result.Total, nil
}

// Close implements Searcher. Idempotent.
func (s *bleveSearcher) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.factory.release(s.handle)
}

var (
	_ Factory  = (*BleveFactory)(nil)
	_ Writer   = (*bleveWriter)(nil)
	_ Searcher = (*bleveSearcher)(nil)
)
