package tablecat

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kainaw/tablecat/store"
	"github.com/kainaw/tablecat/wal"
)

var OpCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tablecat",
	Subsystem: "catalog",
	Name:      "ops",
}, []string{"op", "result"})

// Insert files the record under every indexed field and returns its
// validated, normalized form. The record is durable once its log entry is
// written; if applying fails after that, Insert reports the error but the
// record is still guaranteed to reach the indexes through a later replay.
// With ManualReplay set, Insert returns right after the log write.
//
// Re-inserting a record whose primary and indexed values match an existing
// one is a no-op; the stored payload keeps its original fields.
func (c *Catalog) Insert(ctx context.Context, record store.Fields) (store.Fields, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	fields, err := store.Normalize(record)
	if err != nil {
		OpCount.WithLabelValues("insert", "error").Inc()
		return nil, fmt.Errorf("tablecat: insert: %w", err)
	}
	if err := c.schema.Validate(fields); err != nil {
		OpCount.WithLabelValues("insert", "invalid").Inc()
		return nil, err
	}
	entry, err := c.wal.Append(ctx, wal.OpInsert, fields)
	if err != nil {
		OpCount.WithLabelValues("insert", "error").Inc()
		return nil, err
	}
	if c.opts.ManualReplay {
		OpCount.WithLabelValues("insert", "logged").Inc()
		return fields, nil
	}
	if _, err := c.applier.Replay(ctx); err != nil {
		OpCount.WithLabelValues("insert", "logged").Inc()
		c.log.WarnCtx(ctx, "insert logged but not yet applied",
			"id", entry.ID, "error", err)
		return nil, fmt.Errorf("tablecat: insert %s logged but not applied: %w", entry.ID, err)
	}
	OpCount.WithLabelValues("insert", "ok").Inc()
	return fields, nil
}

// Delete removes every record matching the filter, with the same semantics
// and bounds as Query. Each matched record gets its own log entry, so a
// crash mid-delete resumes where it stopped. Returns the number of records
// deleted.
func (c *Catalog) Delete(ctx context.Context, filter store.Fields, opts ...QueryOption) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	records, err := c.Query(ctx, filter, opts...)
	if err != nil {
		OpCount.WithLabelValues("delete", "error").Inc()
		return 0, err
	}
	for _, record := range records {
		if _, err := c.wal.Append(ctx, wal.OpDelete, record); err != nil {
			OpCount.WithLabelValues("delete", "error").Inc()
			return 0, err
		}
	}
	if c.opts.ManualReplay {
		OpCount.WithLabelValues("delete", "logged").Inc()
		return len(records), nil
	}
	if _, err := c.applier.Replay(ctx); err != nil {
		OpCount.WithLabelValues("delete", "logged").Inc()
		c.log.WarnCtx(ctx, "deletes logged but not yet applied",
			"records", len(records), "error", err)
		return 0, fmt.Errorf("tablecat: %d deletes logged but not applied: %w", len(records), err)
	}
	OpCount.WithLabelValues("delete", "ok").Inc()
	return len(records), nil
}
