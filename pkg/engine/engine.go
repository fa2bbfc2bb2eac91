// Package engine defines the contracts the indexing pipeline requires from
// the underlying full-text storage engine, plus a bleve-backed
// implementation. The pipeline owns when writes happen; the engine owns how
// documents are stored, tokenized, and queried.
package engine

import "context"

// Reserved field names materialized on every indexed document. They use the
// double-underscore prefix so they never collide with caller fields, and
// they are always encoded with the raw (non-tokenized) strategy so lookups
// by identity and category are exact.
const (
	FieldID            = "__IndexID"
	FieldCategory      = "__IndexType"
	FieldItemType      = "__NodeTypeAlias"
	SpecialFieldPrefix = "__"
)

// Document is the engine-native document representation under construction.
// Field values are appended in submission order; a field holding more than
// one value stays multi-valued in the engine.
type Document map[string][]any

// Append adds an encoded value to the named field, preserving order.
func (d Document) Append(field string, v any) {
	d[field] = append(d[field], v)
}

// Keyword marks a string for exact, non-tokenized storage. Fields holding
// Keyword values are mapped to the engine's keyword analyzer so term
// lookups match the whole value.
type Keyword string

// Term identifies documents by an exact, non-tokenized field value. It is
// the unit of deletion and the upsert key.
type Term struct {
	Field string
	Value string
}

// IDTerm builds the identity term for a document ID.
func IDTerm(id string) Term {
	return Term{Field: FieldID, Value: id}
}

// CategoryTerm builds the category term used for category-level deletes.
func CategoryTerm(category string) Term {
	return Term{Field: FieldCategory, Value: category}
}

// Writer is the engine's exclusive write handle. The pipeline holds at most
// one live Writer per index and serializes all calls to it.
type Writer interface {
	// UpdateDocument upserts doc under the given identity term:
	// delete-then-insert by key, not a blind append.
	UpdateDocument(ctx context.Context, term Term, doc Document) error

	// DeleteDocuments removes every document matching the term.
	DeleteDocuments(ctx context.Context, term Term) error

	// DeleteAll removes every document in the index.
	DeleteAll(ctx context.Context) error

	// Commit makes prior writes durable and visible to readers.
	Commit(ctx context.Context) error

	// Optimize triggers a merge of the index segments. When blocking is
	// true the call waits for the merge to finish.
	Optimize(ctx context.Context, blocking bool) error

	// Close releases the writer. The pipeline calls Close exactly once.
	Close() error
}

// SearchRequest is a minimal query against a committed index.
type SearchRequest struct {
	// Query is the full-text query string. Empty matches all documents.
	Query string
	// Category restricts hits to one category when non-empty.
	Category string
	// Limit caps the number of hits. Zero means the engine default.
	Limit int
}

// Hit is one search result.
type Hit struct {
	ID       string
	Category string
	Score    float64
}

// Searcher is the engine's read handle over committed state.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
	// Fields lists the field names known to the index.
	Fields() ([]string, error)
	// Count returns the number of committed documents, restricted to a
	// category when one is given.
	Count(ctx context.Context, category string) (uint64, error)
	Close() error
}

// Factory opens and inspects a physical index location. Implementations
// wrap one storage location; the pipeline never touches the location
// directly.
type Factory interface {
	// CreateWriter opens the write handle. When overwrite is true the
	// location is truncated to an empty index.
	CreateWriter(overwrite bool) (Writer, error)

	// OpenSearcher opens a read handle over the committed state.
	OpenSearcher() (Searcher, error)

	// Exists reports whether an index is present at the location.
	Exists() (bool, error)

	// IsLocked reports whether another writer currently holds the
	// location's write lock.
	IsLocked() (bool, error)

	// Unlock force-releases a stale write lock left by a dead process.
	Unlock() error
}
