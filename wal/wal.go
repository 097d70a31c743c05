// Package wal is the append-only operation log the catalog writes before
// touching any index, plus the checkpoint cell replay resumes from.
//
// Entry ids order the log: a fixed-width UTC nanosecond timestamp followed
// by a random suffix, so ids sort lexicographically in append order and
// never collide across writers. One Log instance hands out strictly
// increasing timestamps even when the wall clock stalls or steps back.
package wal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kainaw/tablecat/store"
)

type Op string

const (
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

const (
	entryPartition = "entry"
	metaPartition  = "meta"
	checkpointRow  = "checkpoint"
)

var (
	// ErrAppendFailed marks a mutation that never became durable. The
	// operation had no effect and is safe to retry from scratch.
	ErrAppendFailed = errors.New("tablecat: log append failed")

	// ErrBadEntry marks a log entry whose stored shape cannot be decoded.
	// Replay stops on it rather than guess at the operation.
	ErrBadEntry = errors.New("tablecat: malformed log entry")
)

// Entry is one logged operation. Payload carries the full record the
// operation was called with, so replay can derive every index key from the
// entry alone.
type Entry struct {
	ID      string
	Op      Op
	Payload store.Fields
}

// Log journals operations into its own store namespace.
type Log struct {
	store store.Store

	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func New(s store.Store) *Log {
	return &Log{store: s, now: time.Now}
}

// nextID stamps an id that sorts strictly after every id this Log has
// handed out, clamping the timestamp forward when the clock repeats or
// steps back. 20 digits hold any int64, so equal-width ids compare as
// numbers.
func (l *Log) nextID() string {
	ns := l.now().UTC().UnixNano()
	l.mu.Lock()
	if ns <= l.last {
		ns = l.last + 1
	}
	l.last = ns
	l.mu.Unlock()
	return fmt.Sprintf("%020d_%s", ns, uuid.NewString())
}

// Append journals one operation and returns the stored entry. The write is
// durable when Append returns; nothing has touched the indexes yet.
func (l *Log) Append(ctx context.Context, op Op, payload store.Fields) (Entry, error) {
	id := l.nextID()
	fields := store.Fields{"op": string(op), "payload": map[string]any(payload)}
	if err := l.store.Create(ctx, entryPartition, id, fields); err != nil {
		return Entry{}, fmt.Errorf("%w: %s entry: %w", ErrAppendFailed, op, err)
	}
	return Entry{ID: id, Op: op, Payload: payload}, nil
}

// Entries yields logged operations in id order, strictly after the given
// id. An empty after starts from the beginning of the log. A malformed
// entity yields ErrBadEntry together with an Entry carrying just its id.
func (l *Log) Entries(ctx context.Context, after string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		sc := store.Scan{Partition: entryPartition}
		if after != "" {
			sc.Lower = after + "\x00"
		}
		for ent, err := range l.store.Scan(ctx, sc) {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			entry, err := decodeEntry(ent)
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

func decodeEntry(ent store.Entity) (Entry, error) {
	op, _ := ent.Fields["op"].(string)
	switch Op(op) {
	case OpInsert, OpDelete:
	default:
		return Entry{ID: ent.Row}, fmt.Errorf("%w %q: bad op %q", ErrBadEntry, ent.Row, op)
	}
	payload, ok := ent.Fields["payload"].(map[string]any)
	if !ok {
		return Entry{ID: ent.Row}, fmt.Errorf("%w %q: missing payload", ErrBadEntry, ent.Row)
	}
	return Entry{ID: ent.Row, Op: Op(op), Payload: store.Fields(payload)}, nil
}

// Checkpoint returns the id of the last entry known to be fully applied, or
// an empty string when nothing has ever been checkpointed.
func (l *Log) Checkpoint(ctx context.Context) (string, error) {
	ent, err := l.store.Get(ctx, metaPartition, checkpointRow)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("tablecat: read checkpoint: %w", err)
	}
	id, _ := ent.Fields["id"].(string)
	return id, nil
}

// SetCheckpoint records id as fully applied. Last writer wins; callers keep
// the checkpoint monotone by only advancing it.
func (l *Log) SetCheckpoint(ctx context.Context, id string) error {
	err := l.store.Upsert(ctx, metaPartition, checkpointRow, store.Fields{"id": id})
	if err != nil {
		return fmt.Errorf("tablecat: write checkpoint: %w", err)
	}
	return nil
}
