package tablecat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kainaw/tablecat/keys"
	"github.com/kainaw/tablecat/schema"
	"github.com/kainaw/tablecat/store"
)

var QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tablecat",
	Subsystem: "catalog",
	Name:      "query_duration",
	Buckets:   []float64{0, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"result"})

type queryOptions struct {
	rowFrom string
	rowTo   string
}

// QueryOption narrows a query beyond its filter.
type QueryOption func(*queryOptions)

// WithRowFrom keeps only records whose primary value is >= primary. The
// bound is matched against the value as written, without case folding.
func WithRowFrom(primary string) QueryOption {
	return func(o *queryOptions) { o.rowFrom = primary }
}

// WithRowTo keeps only records whose primary value is <= primary.
func WithRowTo(primary string) QueryOption {
	return func(o *queryOptions) { o.rowTo = primary }
}

// Query returns the payloads of every record matching all filter fields at
// once, in ascending row-key order. Each filter field must be indexed;
// value matching is case-insensitive. The filter fields are evaluated in
// sorted order: the first names the partition scanned, the rest intersect
// it by row key, stopping as soon as the intersection is empty.
func (c *Catalog) Query(ctx context.Context, filter store.Fields, opts ...QueryOption) ([]store.Fields, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	result := "ok"
	defer func() {
		OpCount.WithLabelValues("query", result).Inc()
		QueryDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	var qo queryOptions
	for _, opt := range opts {
		opt(&qo)
	}
	if len(filter) == 0 {
		result = "invalid"
		return nil, ErrEmptyFilter
	}
	norm, err := store.Normalize(filter)
	if err != nil {
		result = "invalid"
		return nil, fmt.Errorf("tablecat: query: %w", err)
	}
	fields := make([]string, 0, len(norm))
	for field := range norm {
		if !c.schema.IsIndexed(field) {
			result = "invalid"
			return nil, &schema.UnknownFieldError{Field: field}
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sc := store.Scan{}
	if qo.rowFrom != "" {
		sc.Lower = keys.RowLower(qo.rowFrom)
	}
	if qo.rowTo != "" {
		sc.Upper = keys.RowUpper(qo.rowTo)
	}

	var order []string
	payloads := make(map[string]store.Fields)
	for i, field := range fields {
		sc.Partition = keys.Partition(field, keys.Canon(norm[field]))
		if i == 0 {
			for ent, err := range c.table.Scan(ctx, sc) {
				if err != nil {
					result = "error"
					return nil, err
				}
				order = append(order, ent.Row)
				payloads[ent.Row] = ent.Fields
			}
		} else {
			matched := make(map[string]struct{}, len(order))
			for ent, err := range c.table.Scan(ctx, sc) {
				if err != nil {
					result = "error"
					return nil, err
				}
				if _, ok := payloads[ent.Row]; ok {
					matched[ent.Row] = struct{}{}
				}
			}
			kept := order[:0]
			for _, row := range order {
				if _, ok := matched[row]; ok {
					kept = append(kept, row)
				} else {
					delete(payloads, row)
				}
			}
			order = kept
		}
		if len(order) == 0 {
			break
		}
	}

	results := make([]store.Fields, len(order))
	for i, row := range order {
		results[i] = payloads[row]
	}
	return results, nil
}
