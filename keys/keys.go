// Package keys derives the partition and row keys the catalog stores index
// entities under. The encoding has two jobs: equal lookups must be
// case-insensitive, and no two distinct (field, value) pairs may ever map to
// the same partition.
package keys

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash"
	"golang.org/x/text/cases"
)

// Fold maps s to its Unicode case-folded form, the equality class all key
// comparisons run in. A Caser is not safe for concurrent use, so one is
// built per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Canon renders a field value exactly as it appears in its JSON form, so a
// key derived from a live Go value and one derived from a stored copy of it
// always agree. Strings render bare, numbers as their JSON literal.
func Canon(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

// Partition builds the partition key of the index slice holding every record
// whose field carries value. Both parts are folded; the field's byte length
// leads the key, so ("ab","c") and ("a","bc") land in different partitions
// no matter what the names contain.
func Partition(field, value string) string {
	f := Fold(field)
	return fmt.Sprintf("%d:%s:%s", len(f), f, Fold(value))
}

// Content builds the row key of one record: the primary value followed by a
// short fingerprint of all indexed values. The fingerprint disambiguates
// records that share a primary value but differ in other indexed fields;
// the primary value keeps its case so that reads return what was written.
func Content(primary string, indexed map[string]string) string {
	names := make([]string, 0, len(indexed))
	for name := range indexed {
		names = append(names, name)
	}
	sort.Strings(names)
	folded := make([]string, len(names))
	for i, name := range names {
		folded[i] = Fold(indexed[name])
	}
	sum := xxhash.Sum64String(strings.Join(folded, "|"))
	return primary + ":" + fmt.Sprintf("%016x", sum)[:8]
}

// RowLower is the inclusive lower bound of every content key built from
// primary. ':' separates the primary value from its fingerprint, so no
// shorter primary sharing the prefix sorts into the range.
func RowLower(primary string) string {
	return primary + ":"
}

// RowUpper is the exclusive upper bound covering every content key built
// from primary. ';' is the byte after ':'.
func RowUpper(primary string) string {
	return primary + ";"
}
