package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"

	"github.com/kainaw/tablecat"
	"github.com/kainaw/tablecat/store"
)

func parseFields(arg string) (store.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.UseNumber()
	var fields store.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func printRecords(records []store.Fields) {
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			continue
		}
		fmt.Printf("%s\n", line)
	}
	fmt.Printf("%d record(s)\n", len(records))
}

var HelpInsert = errors.New("insert {\"name\":\"Laptop-01\",\"category\":\"Hardware\",\"qty\":3}")

func (repl *REPL) CommandInsert(ctx context.Context, arg string) error {
	if arg == "" {
		return HelpInsert
	}
	record, err := parseFields(arg)
	if err != nil {
		return errors.Wrap(err, HelpInsert.Error())
	}
	rec, err := repl.cat.Insert(ctx, record)
	if err != nil {
		return err
	}
	fmt.Printf("inserted %v\n", rec[repl.cat.Schema().Primary])
	return nil
}

var HelpQuery = errors.New("query {\"category\":\"Hardware\"}")

func (repl *REPL) CommandQuery(ctx context.Context, arg string) error {
	if arg == "" {
		return HelpQuery
	}
	filter, err := parseFields(arg)
	if err != nil {
		return errors.Wrap(err, HelpQuery.Error())
	}
	records, err := repl.cat.Query(ctx, filter)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

var HelpRange = errors.New("range <from> <to> {\"category\":\"Hardware\"}, bounds on the primary value, - for none")

func (repl *REPL) CommandRange(ctx context.Context, arg string) error {
	parts := strings.SplitN(arg, " ", 3)
	if len(parts) != 3 {
		return HelpRange
	}
	filter, err := parseFields(parts[2])
	if err != nil {
		return errors.Wrap(err, HelpRange.Error())
	}
	var opts []tablecat.QueryOption
	if parts[0] != "-" {
		opts = append(opts, tablecat.WithRowFrom(parts[0]))
	}
	if parts[1] != "-" {
		opts = append(opts, tablecat.WithRowTo(parts[1]))
	}
	records, err := repl.cat.Query(ctx, filter, opts...)
	if err != nil {
		return err
	}
	printRecords(records)
	return nil
}

var HelpDelete = errors.New("delete {\"team\":\"eng\"}, removes every record the filter matches")

func (repl *REPL) CommandDelete(ctx context.Context, arg string) error {
	if arg == "" {
		return HelpDelete
	}
	filter, err := parseFields(arg)
	if err != nil {
		return errors.Wrap(err, HelpDelete.Error())
	}
	n, err := repl.cat.Delete(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d record(s)\n", n)
	return nil
}

var HelpRecover = errors.New("recover, applies any logged but unapplied mutations")

func (repl *REPL) CommandRecover(ctx context.Context) error {
	n, err := repl.cat.Recover(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d entries\n", n)
	return nil
}

var HelpReplay = errors.New("replay [after-id], re-applies the log, the whole log when no id is given")

func (repl *REPL) CommandReplay(ctx context.Context, arg string) error {
	n, err := repl.cat.ReplayFrom(ctx, arg)
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d entries\n", n)
	return nil
}

var HelpCheckpoint = errors.New("checkpoint, prints the id of the last applied log entry")

func (repl *REPL) CommandCheckpoint(ctx context.Context) error {
	cp, err := repl.cat.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if cp == "" {
		fmt.Println("(none)")
		return nil
	}
	fmt.Println(cp)
	return nil
}

var HelpStats = errors.New("stats, dumps the catalog's metrics in Prometheus text form")

func (repl *REPL) CommandStats() error {
	mfs, err := repl.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err = expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}

func (repl *REPL) CommandHelp() error {
	for _, h := range []error{
		HelpInsert,
		HelpQuery,
		HelpRange,
		HelpDelete,
		HelpRecover,
		HelpReplay,
		HelpCheckpoint,
		HelpStats,
	} {
		fmt.Println(h.Error())
	}
	return nil
}
