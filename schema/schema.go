// Package schema describes one catalog: the logical table, the set of
// indexed fields, and the primary field whose value leads every row key. It
// validates records against that shape and derives their index placement.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kainaw/tablecat/keys"
	"github.com/kainaw/tablecat/store"
)

var (
	ErrNoTable           = errors.New("tablecat: schema needs a table name")
	ErrBadTableName      = errors.New("tablecat: table name must be alphanumeric")
	ErrNoIndexKeys       = errors.New("tablecat: schema needs at least one index key")
	ErrNoPrimary         = errors.New("tablecat: schema needs a primary field")
	ErrBlankIndexKey     = errors.New("tablecat: blank index key")
	ErrDuplicateIndexKey = errors.New("tablecat: duplicate index key")
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// ValidName reports whether s can name a table or log store.
func ValidName(s string) bool {
	return tableNameRe.MatchString(s)
}

// MissingFieldsError reports a record that lacks one or more indexed fields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("tablecat: record is missing indexed fields: %s", strings.Join(e.Fields, ", "))
}

// UnknownFieldError reports a filter naming a field no index covers.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("tablecat: field %q is not indexed", e.Field)
}

// Schema is immutable once built; construct it with New so its invariants
// hold.
type Schema struct {
	Table     string
	Primary   string
	IndexKeys []string

	indexed map[string]struct{}
}

// New builds a schema over table with the given index keys. The primary
// field names the record's identity and may, but need not, be indexed
// itself. Field names are matched exactly here; case folding applies only
// inside derived keys.
func New(table, primary string, indexKeys []string) (Schema, error) {
	if table == "" {
		return Schema{}, ErrNoTable
	}
	if !tableNameRe.MatchString(table) {
		return Schema{}, fmt.Errorf("%w, got %q", ErrBadTableName, table)
	}
	if primary == "" {
		return Schema{}, ErrNoPrimary
	}
	if len(indexKeys) == 0 {
		return Schema{}, ErrNoIndexKeys
	}
	indexed := make(map[string]struct{}, len(indexKeys))
	sorted := make([]string, 0, len(indexKeys))
	for _, field := range indexKeys {
		if strings.TrimSpace(field) == "" {
			return Schema{}, fmt.Errorf("%w: %q", ErrBlankIndexKey, field)
		}
		if _, ok := indexed[field]; ok {
			return Schema{}, fmt.Errorf("%w: %q", ErrDuplicateIndexKey, field)
		}
		indexed[field] = struct{}{}
		sorted = append(sorted, field)
	}
	sort.Strings(sorted)
	return Schema{Table: table, Primary: primary, IndexKeys: sorted, indexed: indexed}, nil
}

// IsIndexed reports whether field is covered by an index.
func (s Schema) IsIndexed(field string) bool {
	_, ok := s.indexed[field]
	return ok
}

// Validate checks that every indexed field and the primary field are
// present in the record. Values may be any JSON scalar, null included.
func (s Schema) Validate(fields store.Fields) error {
	var missing []string
	for _, field := range s.IndexKeys {
		if _, ok := fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	if _, ok := fields[s.Primary]; !ok && !s.IsIndexed(s.Primary) {
		missing = append(missing, s.Primary)
		sort.Strings(missing)
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// Keys derives the index placement of one record: the shared row key of all
// its index entities, and the partition each indexed field files it under.
// The fingerprint in the row key covers indexed values only. Records that
// differ only in field or value case derive equal partitions, while the row
// key preserves the primary value as written.
func (s Schema) Keys(fields store.Fields) (row string, partitions map[string]string, err error) {
	if err := s.Validate(fields); err != nil {
		return "", nil, err
	}
	indexed := make(map[string]string, len(s.IndexKeys))
	for _, field := range s.IndexKeys {
		indexed[field] = keys.Canon(fields[field])
	}
	partitions = make(map[string]string, len(indexed))
	for field, value := range indexed {
		partitions[field] = keys.Partition(field, value)
	}
	return keys.Content(keys.Canon(fields[s.Primary]), indexed), partitions, nil
}
