package value

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewmckaskill/Examine/pkg/engine"
)

func TestValueTypeCollection_ResolveMemoizes(t *testing.T) {
	// Given: a collection with no explicit definitions
	c := NewValueTypeCollection()

	// When: the same field is resolved twice
	first := c.Resolve("title")
	second := c.Resolve("title")

	// Then: the same strategy instance comes back
	assert.Same(t, first, second)
}

func TestValueTypeCollection_UnknownFieldDefaultsToFullText(t *testing.T) {
	c := NewValueTypeCollection()

	c.Resolve("body")

	assert.Equal(t, TypeFullText, c.FieldType("body"))
}

func TestValueTypeCollection_ReservedPrefixResolvesRaw(t *testing.T) {
	// Given: no definition for a reserved-prefix field
	c := NewValueTypeCollection()

	vt := c.Resolve(engine.FieldCategory)

	// Then: the value lands as a non-tokenized keyword
	doc := engine.Document{}
	vt.AddValue(doc, engine.FieldCategory, "article")
	require.Len(t, doc[engine.FieldCategory], 1)
	assert.Equal(t, engine.Keyword("article"), doc[engine.FieldCategory][0])
}

func TestValueTypeCollection_ExplicitDefinitionWins(t *testing.T) {
	c := NewValueTypeCollection(FieldDefinition{Name: "price", Type: TypeFloat})

	vt := c.Resolve("price")

	doc := engine.Document{}
	vt.AddValue(doc, "price", "12.5")
	require.Len(t, doc["price"], 1)
	assert.Equal(t, 12.5, doc["price"][0])
}

func TestValueTypeCollection_DefineFieldIgnoredAfterResolution(t *testing.T) {
	// Given: a field already resolved as full-text
	c := NewValueTypeCollection()
	before := c.Resolve("created")

	// When: a late definition arrives
	c.DefineField(FieldDefinition{Name: "created", Type: TypeDateTime})

	// Then: the original binding holds
	assert.Same(t, before, c.Resolve("created"))
}

func TestValueTypeCollection_RegisterFactory(t *testing.T) {
	c := NewValueTypeCollection()
	c.RegisterFactory("upper", func() ValueType { return rawType{} })
	c.DefineField(FieldDefinition{Name: "code", Type: "upper"})

	doc := engine.Document{}
	c.Resolve("code").AddValue(doc, "code", "ABC")

	require.Len(t, doc["code"], 1)
	assert.Equal(t, engine.Keyword("ABC"), doc["code"][0])
}

func TestValueTypeCollection_UnknownTypeKeyFallsBackToFullText(t *testing.T) {
	c := NewValueTypeCollection(FieldDefinition{Name: "x", Type: "nonsense"})

	doc := engine.Document{}
	c.Resolve("x").AddValue(doc, "x", "hello")

	require.Len(t, doc["x"], 1)
	assert.Equal(t, "hello", doc["x"][0])
}

func TestValueTypeCollection_ConcurrentResolve(t *testing.T) {
	// Given: many goroutines resolving the same field
	c := NewValueTypeCollection()
	results := make([]ValueType, 32)

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Resolve("shared")
		}(i)
	}
	wg.Wait()

	// Then: every caller saw the same memoized instance
	for _, vt := range results[1:] {
		assert.Same(t, results[0], vt)
	}
}

func TestIntegerType_Conversions(t *testing.T) {
	doc := engine.Document{}
	it := integerType{}

	it.AddValue(doc, "n", 7)
	it.AddValue(doc, "n", int64(8))
	it.AddValue(doc, "n", 9.0)
	it.AddValue(doc, "n", "10")
	it.AddValue(doc, "n", "not a number")

	assert.Equal(t, []any{int64(7), int64(8), int64(9), int64(10)}, doc["n"])
}

func TestFloatType_Conversions(t *testing.T) {
	doc := engine.Document{}
	ft := floatType{}

	ft.AddValue(doc, "f", float32(1.5))
	ft.AddValue(doc, "f", 2.5)
	ft.AddValue(doc, "f", 3)
	ft.AddValue(doc, "f", "4.5")
	ft.AddValue(doc, "f", "oops")

	assert.Equal(t, []any{1.5, 2.5, 3.0, 4.5}, doc["f"])
}

func TestDateTimeType_NormalizesToUTC(t *testing.T) {
	doc := engine.Document{}
	dt := dateTimeType{}
	in := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	dt.AddValue(doc, "ts", in)
	dt.AddValue(doc, "ts", "2024-03-01T11:00:00Z")
	dt.AddValue(doc, "ts", "garbage")

	require.Len(t, doc["ts"], 2)
	assert.Equal(t, "2024-03-01T11:00:00Z", doc["ts"][0])
	assert.Equal(t, "2024-03-01T11:00:00Z", doc["ts"][1])
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "hi", stringify("hi"))
	assert.Equal(t, "42", stringify(42))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "3.5", stringify(3.5))
}
