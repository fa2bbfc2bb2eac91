package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemFactory(t *testing.T) *BleveFactory {
	t.Helper()
	f := NewBleveFactory("", nil)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func indexDoc(t *testing.T, w Writer, id, category, title string) {
	t.Helper()
	doc := Document{}
	doc.Append(FieldID, Keyword(id))
	doc.Append(FieldCategory, Keyword(category))
	doc.Append("title", title)
	require.NoError(t, w.UpdateDocument(context.Background(), IDTerm(id), doc))
}

func TestBleveWriter_CommitIsVisibilityBarrier(t *testing.T) {
	// Given: a staged but uncommitted document
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	indexDoc(t, w, "a", "article", "alpha")

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n, "staged writes must be invisible before commit")

	// When: the writer commits
	require.NoError(t, w.Commit(context.Background()))

	// Then: the document is visible
	n, err = s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestBleveWriter_UpdateIsUpsert(t *testing.T) {
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	indexDoc(t, w, "a", "article", "first")
	require.NoError(t, w.Commit(context.Background()))
	indexDoc(t, w, "a", "article", "second")
	require.NoError(t, w.Commit(context.Background()))

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestBleveWriter_DeleteByCategoryCoversStagedAndCommitted(t *testing.T) {
	// Given: one committed and one staged document in the same category,
	// plus a committed document in another category
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	indexDoc(t, w, "a1", "article", "committed")
	indexDoc(t, w, "m1", "media", "other")
	require.NoError(t, w.Commit(context.Background()))
	indexDoc(t, w, "a2", "article", "staged")

	// When: the category is deleted and committed
	require.NoError(t, w.DeleteDocuments(context.Background(), CategoryTerm("article")))
	require.NoError(t, w.Commit(context.Background()))

	// Then: both article documents are gone, media survives
	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	n, err := s.Count(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	n, err = s.Count(context.Background(), "media")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestBleveWriter_DeleteAll(t *testing.T) {
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	indexDoc(t, w, "a", "article", "one")
	indexDoc(t, w, "b", "article", "two")
	require.NoError(t, w.Commit(context.Background()))
	indexDoc(t, w, "c", "article", "staged and discarded")

	require.NoError(t, w.DeleteAll(context.Background()))
	require.NoError(t, w.Commit(context.Background()))

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestBleveFactory_SecondWriterIsRejected(t *testing.T) {
	// Given: an on-disk index with a live writer
	dir := t.TempDir()
	f := NewBleveFactory(filepath.Join(dir, "idx"), nil)

	w, err := f.CreateWriter(true)
	require.NoError(t, err)

	// Then: a second writer cannot take the lock
	_, err = f.CreateWriter(false)
	assert.ErrorIs(t, err, ErrWriterLocked)

	locked, err := f.IsLocked()
	require.NoError(t, err)
	assert.True(t, locked)

	// And: releasing the first writer frees the location
	require.NoError(t, w.Close())
	locked, err = f.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)

	w2, err := f.CreateWriter(false)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestBleveFactory_ExistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	f := NewBleveFactory(filepath.Join(dir, "idx"), nil)

	exists, err := f.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	exists, err = f.Exists()
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBleveFactory_OpenSearcherWithoutIndexFails(t *testing.T) {
	f := NewBleveFactory(filepath.Join(t.TempDir(), "idx"), nil)
	_, err := f.OpenSearcher()
	assert.Error(t, err)
}

func TestBleveFactory_OnDiskPersistsAcrossReopen(t *testing.T) {
	// Given: a committed document in an on-disk index
	path := filepath.Join(t.TempDir(), "idx")
	f := NewBleveFactory(path, nil)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	indexDoc(t, w, "a", "article", "persisted")
	require.NoError(t, w.Commit(context.Background()))
	require.NoError(t, w.Close())

	// When: a fresh factory opens the same location
	f2 := NewBleveFactory(path, nil)
	s, err := f2.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: the document is still there
	n, err := s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestBleveSearcher_SearchByQueryAndCategory(t *testing.T) {
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	indexDoc(t, w, "a", "article", "golang indexing pipeline")
	indexDoc(t, w, "m", "media", "golang logo image")
	require.NoError(t, w.Commit(context.Background()))

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	hits, err := s.Search(context.Background(), SearchRequest{Query: "golang"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.Search(context.Background(), SearchRequest{Query: "golang", Category: "media"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m", hits[0].ID)
	assert.Equal(t, "media", hits[0].Category)
}

func TestBleveSearcher_MatchAllAndLimit(t *testing.T) {
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	for _, id := range []string{"a", "b", "c"} {
		indexDoc(t, w, id, "article", "same text everywhere")
	}
	require.NoError(t, w.Commit(context.Background()))

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	hits, err := s.Search(context.Background(), SearchRequest{})
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = s.Search(context.Background(), SearchRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestBleveSearcher_FieldsListsIndexedFields(t *testing.T) {
	f := newMemFactory(t)
	w, err := f.CreateWriter(true)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	indexDoc(t, w, "a", "article", "text")
	require.NoError(t, w.Commit(context.Background()))

	s, err := f.OpenSearcher()
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	fields, err := s.Fields()
	require.NoError(t, err)
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, FieldCategory)
}

func TestDocument_AppendPreservesOrder(t *testing.T) {
	doc := Document{}
	doc.Append("tags", "a")
	doc.Append("tags", "b")
	assert.Equal(t, []any{"a", "b"}, doc["tags"])
}

func TestTermConstructors(t *testing.T) {
	assert.Equal(t, Term{Field: FieldID, Value: "x"}, IDTerm("x"))
	assert.Equal(t, Term{Field: FieldCategory, Value: "c"}, CategoryTerm("c"))
}
