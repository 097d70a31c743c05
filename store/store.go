// Package store defines the partitioned key-value contract the catalog is
// built on, together with the embedded implementations: a pebble-backed
// store for durable deployments and an in-memory store for tests and
// ephemeral catalogs.
//
// Every entity is addressed by an opaque (partition key, row key) pair and
// carries storage metadata (write timestamp, write sequence) that the layers
// above strip before handing payloads to callers. Scans are ascending by row
// key within a single partition.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"
)

// Fields is one record payload: field name to JSON scalar value.
type Fields map[string]any

// Meta is the storage metadata attached to every entity. Timestamp is the
// last write time, Seq a store-local write sequence usable as a cheap
// concurrency token. Neither is ever returned through the catalog API.
type Meta struct {
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
}

// Entity is one stored row.
type Entity struct {
	Partition string
	Row       string
	Fields    Fields
	Meta      Meta
}

// Scan addresses a row-key range within one partition. Lower is inclusive,
// Upper exclusive; an empty bound means the start or end of the partition.
type Scan struct {
	Partition string
	Lower     string
	Upper     string
}

type Store interface {
	// Create inserts the entity, failing with ErrExists if the
	// (partition, row) pair is already occupied.
	Create(ctx context.Context, partition, row string, fields Fields) error
	// Upsert writes the entity unconditionally.
	Upsert(ctx context.Context, partition, row string, fields Fields) error
	// Delete removes the entity, failing with ErrNotFound if absent.
	Delete(ctx context.Context, partition, row string) error
	// Get fetches one entity, failing with ErrNotFound if absent.
	Get(ctx context.Context, partition, row string) (Entity, error)
	// Scan yields entities in ascending row-key order. The sequence is a
	// stateless snapshot-style read: it is bounded by the store contents at
	// call time and may be restarted at will. A failed read yields a single
	// non-nil error and stops.
	Scan(ctx context.Context, scan Scan) iter.Seq2[Entity, error]
	Close() error
}

var (
	ErrExists   = errors.New("tablecat: entity already exists")
	ErrNotFound = errors.New("tablecat: entity not found")
	ErrClosed   = errors.New("tablecat: store is closed")
)

// Normalize runs fields through a JSON round trip so that every
// materialization of a payload (log entry, index entity, query result)
// decodes to the same shapes regardless of the Go types the caller handed
// in. Numbers come back as json.Number, which renders as its literal and
// keeps key derivation stable across round trips.
func Normalize(fields Fields) (Fields, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return decodeFields(raw)
}

func decodeFields(raw []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out Fields
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
