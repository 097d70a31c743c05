package tablecat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kainaw/tablecat/schema"
	"github.com/kainaw/tablecat/store"
	"github.com/kainaw/tablecat/wal"
)

func openTestCatalog(t *testing.T, opts Options) *Catalog {
	t.Helper()
	if opts.Table == "" {
		opts = Options{
			Table:     "inventory",
			Primary:   "name",
			IndexKeys: []string{"name", "category"},
			InMemory:  true,
		}
	}
	cat, err := Open(context.Background(), "", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestCatalogScenario(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{
		Table:     "users",
		Primary:   "userId",
		IndexKeys: []string{"email", "team"},
		InMemory:  true,
	})

	record := store.Fields{"userId": "u1", "email": "a@x.com", "team": "eng"}
	_, err := cat.Insert(ctx, record)
	require.NoError(t, err)

	got, err := cat.Query(ctx, store.Fields{"email": "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []store.Fields{record}, got)

	got, err = cat.Query(ctx, store.Fields{"email": "a@x.com", "team": "eng"})
	require.NoError(t, err)
	assert.Equal(t, []store.Fields{record}, got)

	n, err := cat.Delete(ctx, store.Fields{"team": "eng"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = cat.Query(ctx, store.Fields{"email": "a@x.com"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertRoundTripEveryIndexKey(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	record := store.Fields{"name": "Laptop-01", "category": "Hardware", "note": "spare"}
	returned, err := cat.Insert(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "Laptop-01", returned["name"])

	for _, field := range cat.Schema().IndexKeys {
		got, err := cat.Query(ctx, store.Fields{field: record[field]})
		require.NoError(t, err)
		require.Len(t, got, 1, "field %s", field)
		assert.Equal(t, "spare", got[0]["note"], "payload carries non-indexed fields")
	}

	// lookups are case-insensitive on values
	got, err := cat.Query(ctx, store.Fields{"category": "HARDWARE"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Hardware", got[0]["category"], "payload keeps its case")
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	_, err := cat.Insert(ctx, store.Fields{"note": "nothing indexed"})
	var missing *schema.MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"category", "name"}, missing.Fields)

	// the record comes back normalized
	returned, err := cat.Insert(ctx, store.Fields{"name": "x", "category": "y", "qty": 5})
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), returned["qty"])
}

func TestInsertTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	record := store.Fields{"name": "Laptop-01", "category": "Hardware", "rev": 1}
	_, err := cat.Insert(ctx, record)
	require.NoError(t, err)
	_, err = cat.Insert(ctx, store.Fields{"name": "Laptop-01", "category": "Hardware", "rev": 2})
	require.NoError(t, err)

	got, err := cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, json.Number("1"), got[0]["rev"], "first insert wins for the same content key")
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	_, err := cat.Query(ctx, store.Fields{})
	assert.ErrorIs(t, err, ErrEmptyFilter)

	_, err = cat.Query(ctx, store.Fields{"color": "red"})
	var unknown *schema.UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "color", unknown.Field)
}

func TestQueryIntersection(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	for _, rec := range []store.Fields{
		{"name": "Laptop-01", "category": "Hardware"},
		{"name": "Mouse-01", "category": "Hardware"},
		{"name": "Editor", "category": "Software"},
	} {
		_, err := cat.Insert(ctx, rec)
		require.NoError(t, err)
	}

	got, err := cat.Query(ctx, store.Fields{"category": "Hardware"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	// results come back in row-key order, so by primary value
	assert.Equal(t, "Laptop-01", got[0]["name"])
	assert.Equal(t, "Mouse-01", got[1]["name"])

	got, err = cat.Query(ctx, store.Fields{"category": "Hardware", "name": "Mouse-01"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mouse-01", got[0]["name"])

	got, err = cat.Query(ctx, store.Fields{"category": "Software", "name": "Mouse-01"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryRowBounds(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	for _, name := range []string{"Apple", "Banana", "Cherry"} {
		_, err := cat.Insert(ctx, store.Fields{"name": name, "category": "fruit"})
		require.NoError(t, err)
	}

	names := func(opts ...QueryOption) []string {
		got, err := cat.Query(ctx, store.Fields{"category": "fruit"}, opts...)
		require.NoError(t, err)
		out := make([]string, len(got))
		for i, rec := range got {
			out[i] = rec["name"].(string)
		}
		return out
	}

	assert.Equal(t, []string{"Apple", "Banana", "Cherry"}, names())
	// both bounds are inclusive on the primary value
	assert.Equal(t, []string{"Banana", "Cherry"}, names(WithRowFrom("Banana")))
	assert.Equal(t, []string{"Apple", "Banana"}, names(WithRowTo("Banana")))
	assert.Equal(t, []string{"Banana"}, names(WithRowFrom("Banana"), WithRowTo("Banana")))
	assert.Empty(t, names(WithRowFrom("Date")))
}

func TestDeleteByFilterWithBounds(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	for _, name := range []string{"Apple", "Banana", "Cherry"} {
		_, err := cat.Insert(ctx, store.Fields{"name": name, "category": "fruit"})
		require.NoError(t, err)
	}

	n, err := cat.Delete(ctx, store.Fields{"category": "fruit"}, WithRowTo("Banana"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := cat.Query(ctx, store.Fields{"category": "fruit"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Cherry", got[0]["name"])

	// deleting what is gone deletes nothing
	n, err = cat.Delete(ctx, store.Fields{"category": "fruit"}, WithRowTo("Banana"))
	require.NoError(t, err)
	assert.Zero(t, n)

	// the content key is free again after a delete
	_, err = cat.Insert(ctx, store.Fields{"name": "Banana", "category": "fruit", "rev": 2})
	require.NoError(t, err)
	got, err = cat.Query(ctx, store.Fields{"name": "Banana"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, json.Number("2"), got[0]["rev"])
}

// A filter value matches regardless of how its type renders: the number 3
// and the string "3" address the same partition, like the stored form.
func TestQueryNumberValueForms(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{
		Table:     "inventory",
		Primary:   "name",
		IndexKeys: []string{"name", "qty"},
		InMemory:  true,
	})

	_, err := cat.Insert(ctx, store.Fields{"name": "Laptop-01", "qty": 3})
	require.NoError(t, err)

	got, err := cat.Query(ctx, store.Fields{"qty": 3})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = cat.Query(ctx, store.Fields{"qty": "3"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// Under ManualReplay, mutations return once logged and become visible only
// when the caller drives a replay.
func TestManualReplayPolicy(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{
		Table:        "inventory",
		Primary:      "name",
		IndexKeys:    []string{"name", "category"},
		InMemory:     true,
		ManualReplay: true,
	})

	_, err := cat.Insert(ctx, store.Fields{"name": "Laptop-01", "category": "Hardware"})
	require.NoError(t, err)

	got, err := cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Empty(t, got, "insert is logged, not yet applied")

	n, err := cat.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err = cat.Delete(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Len(t, got, 1, "delete is logged, not yet applied")

	_, err = cat.Recover(ctx)
	require.NoError(t, err)
	got, err = cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// A logged mutation that never got applied is invisible until recovery
// replays it.
func TestRecoverAppliesLoggedBacklog(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	_, err := cat.wal.Append(ctx, wal.OpInsert, store.Fields{"name": "Laptop-01", "category": "Hardware"})
	require.NoError(t, err)

	got, err := cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Empty(t, got, "logged but unapplied records are invisible")

	n, err := cat.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = cat.Query(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// Reopening a catalog replays whatever a crashed writer left in the log.
func TestOpenRecoversBacklog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{
		Table:     "inventory",
		Primary:   "name",
		IndexKeys: []string{"name", "category"},
	}

	cat, err := Open(ctx, dir, opts)
	require.NoError(t, err)
	_, err = cat.Insert(ctx, store.Fields{"name": "Applied", "category": "Hardware"})
	require.NoError(t, err)
	// a crash right after the log write: the entry is durable, unapplied
	_, err = cat.wal.Append(ctx, wal.OpInsert, store.Fields{"name": "Orphaned", "category": "Hardware"})
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	cat, err = Open(ctx, dir, opts)
	require.NoError(t, err)
	defer cat.Close()

	got, err := cat.Query(ctx, store.Fields{"category": "Hardware"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Applied", got[0]["name"])
	assert.Equal(t, "Orphaned", got[1]["name"])
}

func TestReplayFromFullLogIsHarmless(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	_, err := cat.Insert(ctx, store.Fields{"name": "Laptop-01", "category": "Hardware"})
	require.NoError(t, err)
	_, err = cat.Delete(ctx, store.Fields{"name": "Laptop-01"})
	require.NoError(t, err)
	_, err = cat.Insert(ctx, store.Fields{"name": "Mouse-01", "category": "Hardware"})
	require.NoError(t, err)

	before, err := cat.Checkpoint(ctx)
	require.NoError(t, err)

	n, err := cat.ReplayFrom(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	after, err := cat.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err := cat.Query(ctx, store.Fields{"category": "Hardware"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mouse-01", got[0]["name"])
}

func TestCheckpointAdvancesPerMutation(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})

	cp, err := cat.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Empty(t, cp)

	_, err = cat.Insert(ctx, store.Fields{"name": "a", "category": "x"})
	require.NoError(t, err)
	first, err := cat.Checkpoint(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	_, err = cat.Insert(ctx, store.Fields{"name": "b", "category": "x"})
	require.NoError(t, err)
	second, err := cat.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestOpenFromEnv(t *testing.T) {
	ctx := context.Background()

	_, _, err := OptionsFromEnv()
	assert.ErrorIs(t, err, ErrEnvMissing)

	t.Setenv(EnvDir, t.TempDir())
	t.Setenv(EnvTable, "inventory")
	t.Setenv(EnvPrimary, "name")
	t.Setenv(EnvIndexKeys, "name, category")
	t.Setenv(EnvFsync, "false")

	cat, err := OpenFromEnv(ctx)
	require.NoError(t, err)
	defer cat.Close()

	assert.Equal(t, []string{"category", "name"}, cat.Schema().IndexKeys)
	_, err = cat.Insert(ctx, store.Fields{"name": "x", "category": "y"})
	require.NoError(t, err)
}

func TestClosedCatalog(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{})
	require.NoError(t, cat.Close())

	_, err := cat.Insert(ctx, store.Fields{"name": "x", "category": "y"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cat.Query(ctx, store.Fields{"name": "x"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cat.Delete(ctx, store.Fields{"name": "x"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = cat.Recover(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, cat.Close(), ErrClosed)
}

func TestCloseStopsWatch(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, Options{
		Table:       "inventory",
		Primary:     "name",
		IndexKeys:   []string{"name", "category"},
		InMemory:    true,
		ReplayEvery: time.Millisecond,
	})

	stopped := make(chan struct{})
	go func() {
		cat.Watch(ctx)
		close(stopped)
	}()

	require.NoError(t, cat.Close())
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("watch kept running after the catalog closed")
	}

	// a watch started on a closed catalog returns at once
	done := make(chan struct{})
	go func() {
		cat.Watch(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch started after close did not return")
	}
}

func TestBadOptions(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", Options{Primary: "name", IndexKeys: []string{"name"}, InMemory: true})
	assert.ErrorIs(t, err, schema.ErrNoTable)

	_, err = Open(ctx, "", Options{Table: "t", IndexKeys: []string{"name"}, InMemory: true})
	assert.ErrorIs(t, err, schema.ErrNoPrimary)

	_, err = Open(ctx, "", Options{
		Table: "t", Primary: "name", IndexKeys: []string{"name"},
		WALName: "bad/name", InMemory: true,
	})
	assert.ErrorIs(t, err, schema.ErrBadTableName)

	// a table name this long leaves no room for the derived log store name
	long := strings.Repeat("t", 60)
	_, err = Open(ctx, "", Options{
		Table: long, Primary: "name", IndexKeys: []string{"name"}, InMemory: true,
	})
	assert.ErrorIs(t, err, schema.ErrBadTableName)

	// naming the log store explicitly lifts the limit back to 63
	cat, err := Open(ctx, "", Options{
		Table: long, Primary: "name", IndexKeys: []string{"name"},
		WALName: "ops_log", InMemory: true,
	})
	require.NoError(t, err)
	require.NoError(t, cat.Close())
}
