package keys

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("LAPTOP"), Fold("laptop"))
	assert.Equal(t, Fold("Grüße"), Fold("GRÜSSE"))
	assert.NotEqual(t, Fold("laptop"), Fold("laptops"))
}

func TestCanon(t *testing.T) {
	assert.Equal(t, "Laptop", Canon("Laptop"))
	assert.Equal(t, "3", Canon(3))
	assert.Equal(t, "9.5", Canon(9.5))
	assert.Equal(t, "null", Canon(nil))
	assert.Equal(t, "true", Canon(true))
	assert.Equal(t, "1e+21", Canon(json.Number("1e+21")))
	// a raw float and its decoded json.Number render identically
	assert.Equal(t, Canon(json.Number("100000000")), Canon(float64(1e8)))
}

func TestPartitionCollisionResistance(t *testing.T) {
	assert.NotEqual(t, Partition("ab", "c"), Partition("a", "bc"))
	assert.NotEqual(t, Partition("a", "b:c"), Partition("a:b", "c"))
	assert.NotEqual(t, Partition("name", "x"), Partition("name", "y"))
}

func TestPartitionFoldsBothParts(t *testing.T) {
	assert.Equal(t, Partition("Name", "Laptop"), Partition("name", "LAPTOP"))
	assert.Equal(t, "4:name:laptop", Partition("Name", "Laptop"))
}

func TestContent(t *testing.T) {
	indexed := map[string]string{"name": "Laptop-01", "category": "Hardware"}

	row := Content("Laptop-01", indexed)
	assert.True(t, len(row) == len("Laptop-01")+1+8)
	assert.Equal(t, "Laptop-01:", row[:len("Laptop-01")+1])

	// stable across calls and insensitive to value case
	assert.Equal(t, row, Content("Laptop-01", indexed))
	assert.Equal(t, row, Content("Laptop-01", map[string]string{
		"name": "LAPTOP-01", "category": "hardware",
	}))

	// a different non-primary value moves the fingerprint
	other := Content("Laptop-01", map[string]string{
		"name": "Laptop-01", "category": "Software",
	})
	assert.NotEqual(t, row, other)

	// the primary value keeps its case
	assert.NotEqual(t, row, Content("laptop-01", indexed))
}

func TestRowBoundsBracketContentKeys(t *testing.T) {
	indexed := map[string]string{"name": "widget", "qty": "3"}
	row := Content("widget", indexed)

	lower, upper := RowLower("widget"), RowUpper("widget")
	assert.LessOrEqual(t, lower, row)
	assert.Less(t, row, upper)

	// a longer primary sharing the prefix stays outside the range
	outside := Content("widgets", map[string]string{"name": "widgets"})
	assert.False(t, lower <= outside && outside < upper)
}
