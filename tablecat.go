// Package tablecat is a secondary-index catalog over a partitioned
// key-value store. A catalog files every record under one partition per
// indexed field, so equality lookups on any indexed field are single
// partition scans, and multi-field lookups are intersections of them.
//
// Durability is log-first: every mutation is appended to an operation log
// before any index is touched, then driven into the index table by the
// replay engine. A crash between the two steps is repaired on the next
// open, replay, or mutation, because applying a log entry is idempotent.
// See the replay package for the exact recovery contract.
package tablecat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kainaw/tablecat/replay"
	"github.com/kainaw/tablecat/schema"
	"github.com/kainaw/tablecat/store"
	"github.com/kainaw/tablecat/utils"
	"github.com/kainaw/tablecat/wal"
)

var (
	ErrClosed      = errors.New("tablecat: catalog is closed")
	ErrEmptyFilter = errors.New("tablecat: query needs at least one filter field")
)

type Options struct {
	// Table names the catalog; the index store lives under dir/<Table>.
	// Names run up to 63 characters, 59 when WALName is left to its
	// default.
	Table string
	// Primary is the field whose value leads every row key.
	Primary string
	// IndexKeys are the fields served by partition lookups.
	IndexKeys []string
	// WALName overrides the operation log store name, <Table>_wal by
	// default.
	WALName string
	// InMemory backs the catalog with volatile stores; dir is ignored.
	InMemory bool
	// DisableFsync trades durability of the last writes for throughput.
	DisableFsync bool
	// ManualReplay makes Insert and Delete return once their log entries
	// are durable, without applying them. The indexes catch up when the
	// caller runs Recover, ReplayFrom or Watch. Off by default: mutations
	// replay the log before returning.
	ManualReplay bool
	// ReplayEvery paces Watch cycles.
	ReplayEvery time.Duration
	Logger      utils.Logger
}

func (o *Options) SetDefaults() {
	if o.WALName == "" && o.Table != "" {
		o.WALName = o.Table + "_wal"
	}
	if o.ReplayEvery <= 0 {
		o.ReplayEvery = time.Second
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// Catalog is the client handle. All methods are safe for concurrent use;
// construct one with Open or OpenFromEnv and share it.
type Catalog struct {
	opts   Options
	schema schema.Schema
	log    utils.Logger

	table    store.Store
	logStore store.Store
	wal      *wal.Log
	applier  *replay.Applier

	collectors []prometheus.Collector
	closed     atomic.Bool
}

// Open opens (creating if needed) the catalog under dir and replays any log
// backlog before returning, so the handle starts with fully applied
// indexes.
func Open(ctx context.Context, dir string, opts Options) (*Catalog, error) {
	opts.SetDefaults()
	sch, err := schema.New(opts.Table, opts.Primary, opts.IndexKeys)
	if err != nil {
		return nil, err
	}
	if !schema.ValidName(opts.WALName) {
		return nil, fmt.Errorf("%w, got log store name %q", schema.ErrBadTableName, opts.WALName)
	}

	var table, logStore store.Store
	var collectors []prometheus.Collector
	if opts.InMemory {
		table, logStore = store.NewMemStore(), store.NewMemStore()
	} else {
		pt, err := store.OpenPebble(filepath.Join(dir, sch.Table), store.PebbleOptions{DisableFsync: opts.DisableFsync})
		if err != nil {
			return nil, err
		}
		pl, err := store.OpenPebble(filepath.Join(dir, opts.WALName), store.PebbleOptions{DisableFsync: opts.DisableFsync})
		if err != nil {
			_ = pt.Close()
			return nil, err
		}
		table, logStore = pt, pl
		collectors = append(collectors,
			store.NewPebbleCollector("table", pt),
			store.NewPebbleCollector("wal", pl))
	}

	walLog := wal.New(logStore)
	log := opts.Logger.With("table", sch.Table)
	cat := &Catalog{
		opts:       opts,
		schema:     sch,
		log:        log,
		table:      table,
		logStore:   logStore,
		wal:        walLog,
		applier:    replay.NewApplier(table, walLog, sch, log),
		collectors: collectors,
	}
	n, err := cat.applier.Replay(ctx)
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("tablecat: recovery on open: %w", err)
	}
	if n > 0 {
		cat.log.InfoCtx(ctx, "recovered log backlog", "entries", n)
	}
	return cat, nil
}

func (c *Catalog) Schema() schema.Schema {
	return c.schema
}

func (c *Catalog) Logger() utils.Logger {
	return c.log
}

// Recover replays the log from the stored checkpoint, returning the number
// of entries processed.
func (c *Catalog) Recover(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.applier.Replay(ctx)
}

// ReplayFrom re-applies every log entry strictly after the given id; an
// empty id replays the whole log. Applies are idempotent and the checkpoint
// never moves backwards, so this is safe to run over already applied
// ranges.
func (c *Catalog) ReplayFrom(ctx context.Context, after string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.applier.ReplayFrom(ctx, after)
}

// Checkpoint returns the id of the last log entry known to be fully
// applied, empty when the log has never been applied.
func (c *Catalog) Checkpoint(ctx context.Context) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	return c.wal.Checkpoint(ctx)
}

// Watch replays in a loop until the context is cancelled or the catalog is
// closed, absorbing entries appended by other writers of the same stores.
func (c *Catalog) Watch(ctx context.Context) {
	if c.closed.Load() {
		return
	}
	c.applier.Watch(ctx, c.opts.ReplayEvery)
}

// Collectors returns this catalog's store-level collectors. Package-level
// metrics are registered separately with RegisterMetrics.
func (c *Catalog) Collectors() []prometheus.Collector {
	return c.collectors
}

func (c *Catalog) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	err := c.table.Close()
	if lerr := c.logStore.Close(); err == nil {
		err = lerr
	}
	return err
}
