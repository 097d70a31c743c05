package store

import (
	"context"
	"iter"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemStore is an in-memory Store with the same normalization and ordering
// semantics as the durable one. It backs tests and ephemeral catalogs.
type MemStore struct {
	parts  *xsync.MapOf[string, *memPartition]
	seq    atomic.Uint64
	closed atomic.Bool
}

type memPartition struct {
	mu   sync.RWMutex
	rows map[string]Entity
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{parts: xsync.NewMapOf[string, *memPartition]()}
}

func (s *MemStore) partition(name string) *memPartition {
	part, _ := s.parts.LoadOrCompute(name, func() *memPartition {
		return &memPartition{rows: make(map[string]Entity)}
	})
	return part
}

func (s *MemStore) stamp() Meta {
	return Meta{Timestamp: time.Now().UTC(), Seq: s.seq.Add(1)}
}

func (s *MemStore) Create(ctx context.Context, partition, row string, fields Fields) error {
	if s.closed.Load() {
		return ErrClosed
	}
	fields, err := Normalize(fields)
	if err != nil {
		return err
	}
	part := s.partition(partition)
	part.mu.Lock()
	defer part.mu.Unlock()
	if _, ok := part.rows[row]; ok {
		return ErrExists
	}
	part.rows[row] = Entity{Partition: partition, Row: row, Fields: fields, Meta: s.stamp()}
	return nil
}

func (s *MemStore) Upsert(ctx context.Context, partition, row string, fields Fields) error {
	if s.closed.Load() {
		return ErrClosed
	}
	fields, err := Normalize(fields)
	if err != nil {
		return err
	}
	part := s.partition(partition)
	part.mu.Lock()
	defer part.mu.Unlock()
	part.rows[row] = Entity{Partition: partition, Row: row, Fields: fields, Meta: s.stamp()}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, partition, row string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	part := s.partition(partition)
	part.mu.Lock()
	defer part.mu.Unlock()
	if _, ok := part.rows[row]; !ok {
		return ErrNotFound
	}
	delete(part.rows, row)
	return nil
}

func (s *MemStore) Get(ctx context.Context, partition, row string) (Entity, error) {
	if s.closed.Load() {
		return Entity{}, ErrClosed
	}
	part := s.partition(partition)
	part.mu.RLock()
	defer part.mu.RUnlock()
	ent, ok := part.rows[row]
	if !ok {
		return Entity{}, ErrNotFound
	}
	ent.Fields = maps.Clone(ent.Fields)
	return ent, nil
}

func (s *MemStore) Scan(ctx context.Context, sc Scan) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		if s.closed.Load() {
			yield(Entity{}, ErrClosed)
			return
		}
		part := s.partition(sc.Partition)
		part.mu.RLock()
		rows := make([]string, 0, len(part.rows))
		for row := range part.rows {
			if row < sc.Lower {
				continue
			}
			if sc.Upper != "" && row >= sc.Upper {
				continue
			}
			rows = append(rows, row)
		}
		sort.Strings(rows)
		ents := make([]Entity, len(rows))
		for i, row := range rows {
			ent := part.rows[row]
			ent.Fields = maps.Clone(ent.Fields)
			ents[i] = ent
		}
		part.mu.RUnlock()
		for _, ent := range ents {
			if err := ctx.Err(); err != nil {
				yield(Entity{}, err)
				return
			}
			if !yield(ent, nil) {
				return
			}
		}
	}
}

func (s *MemStore) Close() error {
	s.closed.Store(true)
	return nil
}
