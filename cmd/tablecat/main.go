package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kainaw/tablecat"
)

type REPL struct {
	cat *tablecat.Catalog
	reg *prometheus.Registry
	rl  *readline.Instance
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("insert"),
	readline.PcItem("query"),
	readline.PcItem("range"),
	readline.PcItem("delete"),

	readline.PcItem("recover"),
	readline.PcItem("replay"),
	readline.PcItem("checkpoint"),
	readline.PcItem("stats"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".tablecat_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

func (repl *REPL) REPL(ctx context.Context) error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	cmd, arg := line, ""
	if ws := strings.IndexAny(line, " \t"); ws > 0 {
		cmd = line[:ws]
		arg = strings.TrimSpace(line[ws:])
	}
	switch cmd {
	case "insert", "put":
		err = repl.CommandInsert(ctx, arg)
	case "query", "get":
		err = repl.CommandQuery(ctx, arg)
	case "range":
		err = repl.CommandRange(ctx, arg)
	case "delete", "del":
		err = repl.CommandDelete(ctx, arg)
	case "recover":
		err = repl.CommandRecover(ctx)
	case "replay":
		err = repl.CommandReplay(ctx, arg)
	case "checkpoint", "cp":
		err = repl.CommandCheckpoint(ctx)
	case "stats":
		err = repl.CommandStats()
	case "help":
		err = repl.CommandHelp()
	case "exit", "quit":
		err = io.EOF
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return err
}

func newRegistry(cat *tablecat.Catalog) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := tablecat.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	for _, c := range cat.Collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
	}()
}

func main() {
	var (
		dir     string
		table   string
		primary string
		keys    string
		walName string
		fsync   bool
		mem     bool
		metrics string
	)
	flag.StringVar(&dir, "dir", envStr(tablecat.EnvDir, "./data"), "data directory")
	flag.StringVar(&table, "table", envStr(tablecat.EnvTable, ""), "table name")
	flag.StringVar(&primary, "primary", envStr(tablecat.EnvPrimary, ""), "primary field")
	flag.StringVar(&keys, "keys", envStr(tablecat.EnvIndexKeys, ""), "comma-separated indexed fields")
	flag.StringVar(&walName, "wal", envStr(tablecat.EnvWAL, ""), "operation log store name (default <table>_wal)")
	flag.BoolVar(&fsync, "fsync", envBool(tablecat.EnvFsync, true), "fsync every write (disable for speed at risk of losing the last writes on crash)")
	flag.BoolVar(&mem, "mem", false, "volatile in-memory stores, for trying things out")
	flag.StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address, e.g. :9155")
	flag.Parse()

	ctx := context.Background()
	cat, err := tablecat.Open(ctx, dir, tablecat.Options{
		Table:        table,
		Primary:      primary,
		IndexKeys:    tablecat.SplitIndexKeys(keys),
		WALName:      walName,
		InMemory:     mem,
		DisableFsync: !fsync,
	})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	reg, err := newRegistry(cat)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if metrics != "" {
		serveMetrics(metrics, reg)
	}

	repl := REPL{cat: cat, reg: reg}
	if err = repl.Open(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Printf("%s open, primary %s, keys %s\n", table, primary, strings.Join(cat.Schema().IndexKeys, ","))

	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
			err = nil
		}
		err = repl.REPL(ctx)
	}

	_ = repl.Close()
	if err = cat.Close(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
