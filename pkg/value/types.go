package value

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/andrewmckaskill/Examine/pkg/engine"
)

// Well-known value-type keys. A FieldDefinition binds a field name to one
// of these; unknown fields default to TypeFullText.
const (
	TypeFullText = "fulltext"
	TypeRaw      = "raw"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeDateTime = "datetime"
)

// ValueType encodes raw field values into the engine-native document
// representation. One instance serves one field name for the lifetime of
// an index; implementations must be safe for concurrent use.
type ValueType interface {
	// AddValue encodes raw into doc under the given field. Values the
	// strategy cannot interpret are skipped silently.
	AddValue(doc engine.Document, field string, raw any)
}

// ValueTypeFactory produces a ValueType bound to the index's analyzer
// configuration.
type ValueTypeFactory func() ValueType

// FieldDefinition declares which value-type strategy governs a field.
type FieldDefinition struct {
	Name string
	Type string
}

// ValueTypeCollection resolves field names to value-type strategies.
// Resolution is memoized: once a field name is bound to a strategy it never
// changes for the lifetime of the collection. Re-registering a resolved
// field is undefined and is ignored.
type ValueTypeCollection struct {
	mu        sync.RWMutex
	factories map[string]ValueTypeFactory
	defs      map[string]string
	resolved  map[string]ValueType
}

// NewValueTypeCollection creates a collection with the standard factories
// registered and the given explicit field definitions.
func NewValueTypeCollection(defs ...FieldDefinition) *ValueTypeCollection {
	c := &ValueTypeCollection{
		factories: map[string]ValueTypeFactory{
			TypeFullText: func() ValueType { return &fullTextType{} },
			TypeRaw:      func() ValueType { return &rawType{} },
			TypeInteger:  func() ValueType { return &integerType{} },
			TypeFloat:    func() ValueType { return &floatType{} },
			TypeDateTime: func() ValueType { return &dateTimeType{} },
		},
		defs:     make(map[string]string, len(defs)),
		resolved: make(map[string]ValueType),
	}
	for _, d := range defs {
		c.defs[d.Name] = d.Type
	}
	return c
}

// RegisterFactory adds or replaces the factory for a type key. Factories
// must be registered before any field resolves to the key.
func (c *ValueTypeCollection) RegisterFactory(key string, f ValueTypeFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[key] = f
}

// DefineField registers an explicit definition for a field that has not
// been resolved yet. Definitions for already-resolved fields are ignored.
func (c *ValueTypeCollection) DefineField(def FieldDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resolved[def.Name]; ok {
		return
	}
	c.defs[def.Name] = def.Type
}

// Resolve returns the strategy for the field, creating and memoizing it on
// first sighting. Resolution order: explicit definition, reserved-prefix
// convention (raw, non-tokenized), then auto-register as full-text.
func (c *ValueTypeCollection) Resolve(field string) ValueType {
	c.mu.RLock()
	vt, ok := c.resolved[field]
	c.mu.RUnlock()
	if ok {
		return vt
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if vt, ok := c.resolved[field]; ok {
		return vt
	}

	key, ok := c.defs[field]
	if !ok {
		if len(field) >= len(engine.SpecialFieldPrefix) && field[:len(engine.SpecialFieldPrefix)] == engine.SpecialFieldPrefix {
			key = TypeRaw
		} else {
			key = TypeFullText
			c.defs[field] = key
		}
	}

	factory, ok := c.factories[key]
	if !ok {
		factory = c.factories[TypeFullText]
	}
	vt = factory()
	c.resolved[field] = vt
	return vt
}

// FieldType reports the type key a field is defined as, or TypeFullText
// when the field is unknown.
func (c *ValueTypeCollection) FieldType(field string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.defs[field]; ok {
		return key
	}
	return TypeFullText
}

// fullTextType stores values as analyzer-tokenized text.
type fullTextType struct{}

func (fullTextType) AddValue(doc engine.Document, field string, raw any) {
	if s := stringify(raw); s != "" {
		doc.Append(field, s)
	}
}

// rawType stores values as exact, non-tokenized keys using an
// invariant-culture rendering of the raw value.
type rawType struct{}

func (rawType) AddValue(doc engine.Document, field string, raw any) {
	if s := stringify(raw); s != "" {
		doc.Append(field, engine.Keyword(s))
	}
}

// integerType stores values as int64. Non-numeric values are skipped.
type integerType struct{}

func (integerType) AddValue(doc engine.Document, field string, raw any) {
	switch v := raw.(type) {
	case int:
		doc.Append(field, int64(v))
	case int32:
		doc.Append(field, int64(v))
	case int64:
		doc.Append(field, v)
	case float64:
		doc.Append(field, int64(v))
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			doc.Append(field, n)
		}
	}
}

// floatType stores values as float64. Non-numeric values are skipped.
type floatType struct{}

func (floatType) AddValue(doc engine.Document, field string, raw any) {
	switch v := raw.(type) {
	case float32:
		doc.Append(field, float64(v))
	case float64:
		doc.Append(field, v)
	case int:
		doc.Append(field, float64(v))
	case int64:
		doc.Append(field, float64(v))
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			doc.Append(field, f)
		}
	}
}

// dateTimeType stores values as RFC 3339 timestamps so lexical order
// matches chronological order. Unparseable values are skipped.
type dateTimeType struct{}

func (dateTimeType) AddValue(doc engine.Document, field string, raw any) {
	switch v := raw.(type) {
	case time.Time:
		doc.Append(field, v.UTC().Format(time.RFC3339Nano))
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			doc.Append(field, t.UTC().Format(time.RFC3339Nano))
		}
	}
}

// stringify renders a raw value with invariant formatting.
func stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
