// Package value defines the logical record model submitted to the indexing
// pipeline and the per-field value-type dispatch used to materialize a
// record into engine-native fields.
package value

// ValueSet is the logical record submitted for indexing. A field may carry
// multiple values; the order of values within a field is preserved all the
// way into the engine document.
//
// A ValueSet is created once by the producer and consumed once by the
// pipeline. Callers must not mutate it after submitting; use Clone when a
// mutable copy is needed.
type ValueSet struct {
	// ID is the stable identity of the record. Re-indexing the same ID
	// replaces the previously indexed document (upsert).
	ID string

	// Category is the logical partition the record belongs to, e.g. a
	// content type group. Category-level deletes remove every record
	// sharing a Category.
	Category string

	// ItemType is the sub-type within the category.
	ItemType string

	// Values maps field name to the ordered raw values for that field.
	Values map[string][]any
}

// NewValueSet creates a ValueSet with empty values.
func NewValueSet(id, category, itemType string) *ValueSet {
	return &ValueSet{
		ID:       id,
		Category: category,
		ItemType: itemType,
		Values:   make(map[string][]any),
	}
}

// FromMap creates a ValueSet from single-valued fields.
func FromMap(id, category, itemType string, fields map[string]any) *ValueSet {
	vs := NewValueSet(id, category, itemType)
	for name, v := range fields {
		vs.Values[name] = []any{v}
	}
	return vs
}

// Add appends a value to the named field, preserving insertion order.
func (vs *ValueSet) Add(field string, v any) *ValueSet {
	vs.Values[field] = append(vs.Values[field], v)
	return vs
}

// Set replaces the named field with a single value.
func (vs *ValueSet) Set(field string, v any) *ValueSet {
	vs.Values[field] = []any{v}
	return vs
}

// First returns the first value of the named field, or nil if absent.
func (vs *ValueSet) First(field string) any {
	if vals := vs.Values[field]; len(vals) > 0 {
		return vals[0]
	}
	return nil
}

// Clone returns a deep copy of the value map (raw values themselves are
// shared; they are treated as immutable).
func (vs *ValueSet) Clone() *ValueSet {
	out := &ValueSet{
		ID:       vs.ID,
		Category: vs.Category,
		ItemType: vs.ItemType,
		Values:   make(map[string][]any, len(vs.Values)),
	}
	for name, vals := range vs.Values {
		out.Values[name] = append([]any(nil), vals...)
	}
	return out
}

// IndexItem is the unit wrapped by an IndexOperation. For adds it carries
// the full ValueSet; for deletes only ID and Category are populated (a
// category-level delete has an empty ID).
type IndexItem struct {
	ID       string
	Category string
	ValueSet *ValueSet
}

// ItemFromValueSet wraps a ValueSet for an add operation.
func ItemFromValueSet(vs *ValueSet) IndexItem {
	return IndexItem{ID: vs.ID, Category: vs.Category, ValueSet: vs}
}

// ForDeletion creates an item that deletes the document with the given ID.
func ForDeletion(id string) IndexItem {
	return IndexItem{ID: id}
}

// ForCategoryDeletion creates an item that deletes every document in the
// given category.
func ForCategoryDeletion(category string) IndexItem {
	return IndexItem{Category: category}
}

// Operation is the kind of an IndexOperation.
type Operation int

const (
	// OpAdd upserts the item's ValueSet into the index.
	OpAdd Operation = iota
	// OpDelete removes by ID, or by Category when the ID is empty.
	OpDelete
)

// String returns the operation name for logging.
func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// IndexOperation is the unit of queuing: an item plus the operation to
// apply. It is an immutable value.
type IndexOperation struct {
	Item IndexItem
	Op   Operation
}

// AddOperation builds an add operation for the given ValueSet.
func AddOperation(vs *ValueSet) IndexOperation {
	return IndexOperation{Item: ItemFromValueSet(vs), Op: OpAdd}
}

// DeleteOperation builds a delete-by-ID operation.
func DeleteOperation(id string) IndexOperation {
	return IndexOperation{Item: ForDeletion(id), Op: OpDelete}
}

// DeleteCategoryOperation builds a delete-by-category operation.
func DeleteCategoryOperation(category string) IndexOperation {
	return IndexOperation{Item: ForCategoryDeletion(category), Op: OpDelete}
}
