package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kainaw/tablecat/schema"
	"github.com/kainaw/tablecat/store"
	"github.com/kainaw/tablecat/utils"
	"github.com/kainaw/tablecat/wal"
)

var EntryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tablecat",
	Subsystem: "replay",
	Name:      "entries",
}, []string{"op", "outcome"})

var WriteCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tablecat",
	Subsystem: "replay",
	Name:      "index_writes",
}, []string{"op", "outcome"})

var RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "tablecat",
	Subsystem: "replay",
	Name:      "run_duration",
	Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
}, []string{"result"})

// Outcome classifies one application. The two no-op variants make the
// idempotence of replay visible instead of hiding it in swallowed store
// errors: an insert landing on an existing entity is AlreadyApplied, a
// delete finding nothing to remove is NotPresent.
type Outcome byte

const (
	OutcomeApplied        Outcome = 'A'
	OutcomeAlreadyApplied Outcome = 'E'
	OutcomeNotPresent     Outcome = 'M'
	OutcomeFailed         Outcome = 'F'
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeNotPresent:
		return "not_present"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%c)", byte(o))
}

// Error reports the entry a replay run stopped at. The checkpoint stays on
// the last fully applied entry, so a retry resumes exactly here.
type Error struct {
	EntryID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tablecat: log entry %s cannot be applied: %v", e.EntryID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Applier fans log entries out into the index table and advances the
// checkpoint. One applier is the single checkpoint writer for its catalog.
type Applier struct {
	table  store.Store
	wal    *wal.Log
	schema schema.Schema
	log    utils.Logger

	// entry ids this applier has fully fanned out
	done *lru.Cache[string, struct{}]

	cpMu sync.Mutex
	cp   string
}

func NewApplier(table store.Store, log *wal.Log, sch schema.Schema, logger utils.Logger) *Applier {
	done, _ := lru.New[string, struct{}](8192)
	return &Applier{table: table, wal: log, schema: sch, log: logger, done: done}
}

// Apply fans one entry out into the index table, one write per indexed
// field, all idempotent. It stops at the first refused write; the entries
// already written stay in place and resolve as AlreadyApplied on retry.
func (a *Applier) Apply(ctx context.Context, entry wal.Entry) (Outcome, error) {
	if _, ok := a.done.Get(entry.ID); ok {
		EntryCount.WithLabelValues(string(entry.Op), OutcomeAlreadyApplied.String()).Inc()
		return OutcomeAlreadyApplied, nil
	}
	outcome, err := a.fanOut(ctx, entry)
	EntryCount.WithLabelValues(string(entry.Op), outcome.String()).Inc()
	if err != nil {
		return outcome, err
	}
	a.done.Add(entry.ID, struct{}{})
	return outcome, nil
}

func (a *Applier) fanOut(ctx context.Context, entry wal.Entry) (Outcome, error) {
	row, partitions, err := a.schema.Keys(entry.Payload)
	if err != nil {
		return OutcomeFailed, &Error{EntryID: entry.ID, Err: err}
	}
	fields := make([]string, 0, len(partitions))
	for field := range partitions {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	// with no write landing, the entry as a whole is a replay no-op
	outcome := OutcomeAlreadyApplied
	if entry.Op == wal.OpDelete {
		outcome = OutcomeNotPresent
	}
	for _, field := range fields {
		wout, err := a.applyWrite(ctx, entry.Op, partitions[field], row, entry.Payload)
		WriteCount.WithLabelValues(string(entry.Op), wout.String()).Inc()
		if err != nil {
			a.log.ErrorCtx(ctx, "index write refused",
				"id", entry.ID, "op", string(entry.Op), "field", field, "error", err)
			return OutcomeFailed, &Error{EntryID: entry.ID, Err: fmt.Errorf("field %q: %w", field, err)}
		}
		if wout == OutcomeApplied {
			outcome = OutcomeApplied
		}
	}
	return outcome, nil
}

func (a *Applier) applyWrite(ctx context.Context, op wal.Op, partition, row string, payload store.Fields) (Outcome, error) {
	switch op {
	case wal.OpInsert:
		err := a.table.Create(ctx, partition, row, payload)
		switch {
		case err == nil:
			return OutcomeApplied, nil
		case errors.Is(err, store.ErrExists):
			return OutcomeAlreadyApplied, nil
		default:
			return OutcomeFailed, err
		}
	case wal.OpDelete:
		err := a.table.Delete(ctx, partition, row)
		switch {
		case err == nil:
			return OutcomeApplied, nil
		case errors.Is(err, store.ErrNotFound):
			return OutcomeNotPresent, nil
		default:
			return OutcomeFailed, err
		}
	}
	return OutcomeFailed, fmt.Errorf("%w: op %q", wal.ErrBadEntry, op)
}

// syncCheckpoint lifts the in-memory checkpoint to the stored one. The
// in-memory copy never goes down, so a replay from an older position cannot
// regress what an earlier run already recorded.
func (a *Applier) syncCheckpoint(ctx context.Context) (string, error) {
	stored, err := a.wal.Checkpoint(ctx)
	if err != nil {
		return "", err
	}
	a.cpMu.Lock()
	defer a.cpMu.Unlock()
	if stored > a.cp {
		a.cp = stored
	}
	return a.cp, nil
}

func (a *Applier) advance(ctx context.Context, id string) error {
	a.cpMu.Lock()
	defer a.cpMu.Unlock()
	if id <= a.cp {
		return nil
	}
	if err := a.wal.SetCheckpoint(ctx, id); err != nil {
		return err
	}
	a.cp = id
	return nil
}

// Replay resumes from the stored checkpoint and applies everything after
// it. It returns the number of entries processed.
func (a *Applier) Replay(ctx context.Context) (int, error) {
	cp, err := a.syncCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	return a.ReplayFrom(ctx, cp)
}

// ReplayFrom applies every entry strictly after the given id; an empty id
// replays the whole log. The checkpoint advances per entry and only
// forward, so replaying an already applied range is a sequence of no-ops.
func (a *Applier) ReplayFrom(ctx context.Context, after string) (int, error) {
	start := time.Now()
	if _, err := a.syncCheckpoint(ctx); err != nil {
		return 0, err
	}
	processed := 0
	for entry, err := range a.wal.Entries(ctx, after) {
		if err != nil {
			if entry.ID != "" {
				err = &Error{EntryID: entry.ID, Err: err}
			}
			RunDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return processed, err
		}
		if _, err := a.Apply(ctx, entry); err != nil {
			RunDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return processed, err
		}
		if err := a.advance(ctx, entry.ID); err != nil {
			RunDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return processed, err
		}
		processed++
	}
	RunDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return processed, nil
}

// Watch replays in a loop, picking up entries other writers appended,
// until the context is cancelled or the backing stores close. Other
// failures are logged and retried on the next cycle.
func (a *Applier) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	for ctx.Err() == nil {
		_, err := a.Replay(ctx)
		if errors.Is(err, store.ErrClosed) {
			return
		}
		if err != nil && ctx.Err() == nil {
			a.log.ErrorCtx(ctx, "replay cycle failed", "error", err)
		}
		time.Sleep(every)
	}
}
