package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/puzpuzpuz/xsync/v3"
)

// tableKeyTag prefixes every entity key so other record families can share
// the keyspace later without a format change.
const tableKeyTag = 'T'

// PebbleOptions configures a durable store. The zero value is a safe
// default: fsync on every write.
type PebbleOptions struct {
	// DisableFsync trades durability of the last writes for throughput.
	DisableFsync bool
	// Pebble tunes the underlying LSM. ErrorIfNotExists is overridden so
	// opening creates missing databases; every other field passes through
	// to pebble.Open.
	Pebble pebble.Options
}

// PebbleStore is a Store over a single pebble database. Entity keys embed
// the partition with a length prefix, so partitions cannot collide however
// their names nest.
type PebbleStore struct {
	db     *pebble.DB
	wo     *pebble.WriteOptions
	locks  *xsync.MapOf[string, *sync.Mutex]
	seq    atomic.Uint64
	closed atomic.Bool
}

var _ Store = (*PebbleStore)(nil)

// OpenPebble opens (creating if needed) the database in dir.
func OpenPebble(dir string, opts PebbleOptions) (*PebbleStore, error) {
	po := opts.Pebble
	po.ErrorIfNotExists = false
	db, err := pebble.Open(dir, &po)
	if err != nil {
		return nil, fmt.Errorf("tablecat: open store %q: %w", dir, err)
	}
	wo := pebble.Sync
	if opts.DisableFsync {
		wo = pebble.NoSync
	}
	return &PebbleStore{
		db:    db,
		wo:    wo,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}, nil
}

func entityKey(partition, row string) []byte {
	key := make([]byte, 0, 1+binary.MaxVarintLen32+len(partition)+len(row))
	key = append(key, tableKeyTag)
	key = binary.AppendUvarint(key, uint64(len(partition)))
	key = append(key, partition...)
	key = append(key, row...)
	return key
}

func partitionPrefix(partition string) []byte {
	return entityKey(partition, "")
}

// prefixEnd returns the smallest key greater than every key carrying the
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type envelope struct {
	Meta   Meta            `json:"meta"`
	Fields json.RawMessage `json:"fields"`
}

func (s *PebbleStore) encode(fields Fields) ([]byte, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Meta:   Meta{Timestamp: time.Now().UTC(), Seq: s.seq.Add(1)},
		Fields: raw,
	})
}

func decodeEntity(partition, row string, value []byte) (Entity, error) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Entity{}, fmt.Errorf("tablecat: decode entity %q/%q: %w", partition, row, err)
	}
	fields, err := decodeFields(env.Fields)
	if err != nil {
		return Entity{}, fmt.Errorf("tablecat: decode entity %q/%q: %w", partition, row, err)
	}
	return Entity{Partition: partition, Row: row, Fields: fields, Meta: env.Meta}, nil
}

// lockKey serializes writers of one entity key. The entry is dropped on
// unlock to keep the map bounded; a concurrent loser re-reads under its own
// lock, so the worst case is a repeated occupancy check.
func (s *PebbleStore) lockKey(key string) func() {
	lock, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	lock.Lock()
	return func() {
		lock.Unlock()
		s.locks.Delete(key)
	}
}

func (s *PebbleStore) Create(ctx context.Context, partition, row string, fields Fields) error {
	if s.closed.Load() {
		return ErrClosed
	}
	value, err := s.encode(fields)
	if err != nil {
		return err
	}
	key := entityKey(partition, row)
	unlock := s.lockKey(string(key))
	defer unlock()
	_, closer, err := s.db.Get(key)
	if closer != nil {
		_ = closer.Close()
	}
	switch {
	case err == nil:
		return ErrExists
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("tablecat: create %q/%q: %w", partition, row, err)
	}
	return s.db.Set(key, value, s.wo)
}

func (s *PebbleStore) Upsert(ctx context.Context, partition, row string, fields Fields) error {
	if s.closed.Load() {
		return ErrClosed
	}
	value, err := s.encode(fields)
	if err != nil {
		return err
	}
	return s.db.Set(entityKey(partition, row), value, s.wo)
}

func (s *PebbleStore) Delete(ctx context.Context, partition, row string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	key := entityKey(partition, row)
	unlock := s.lockKey(string(key))
	defer unlock()
	_, closer, err := s.db.Get(key)
	if closer != nil {
		_ = closer.Close()
	}
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("tablecat: delete %q/%q: %w", partition, row, err)
	}
	return s.db.Delete(key, s.wo)
}

func (s *PebbleStore) Get(ctx context.Context, partition, row string) (Entity, error) {
	if s.closed.Load() {
		return Entity{}, ErrClosed
	}
	value, closer, err := s.db.Get(entityKey(partition, row))
	if closer != nil {
		defer closer.Close()
	}
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return Entity{}, ErrNotFound
	case err != nil:
		return Entity{}, fmt.Errorf("tablecat: get %q/%q: %w", partition, row, err)
	}
	return decodeEntity(partition, row, value)
}

func (s *PebbleStore) Scan(ctx context.Context, sc Scan) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		if s.closed.Load() {
			yield(Entity{}, ErrClosed)
			return
		}
		prefix := partitionPrefix(sc.Partition)
		bounds := pebble.IterOptions{
			LowerBound: entityKey(sc.Partition, sc.Lower),
			UpperBound: prefixEnd(prefix),
		}
		if sc.Upper != "" {
			bounds.UpperBound = entityKey(sc.Partition, sc.Upper)
		}
		it, err := s.db.NewIter(&bounds)
		if err != nil {
			yield(Entity{}, fmt.Errorf("tablecat: scan %q: %w", sc.Partition, err))
			return
		}
		defer it.Close()
		for valid := it.First(); valid; valid = it.Next() {
			if err := ctx.Err(); err != nil {
				yield(Entity{}, err)
				return
			}
			ent, err := decodeEntity(sc.Partition, string(it.Key()[len(prefix):]), it.Value())
			if err != nil {
				yield(Entity{}, err)
				return
			}
			if !yield(ent, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(Entity{}, fmt.Errorf("tablecat: scan %q: %w", sc.Partition, err))
		}
	}
}

// Metrics exposes the pebble counters consumed by NewPebbleCollector.
func (s *PebbleStore) Metrics() *pebble.Metrics {
	return s.db.Metrics()
}

func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
