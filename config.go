package tablecat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables understood by OpenFromEnv. The index-key list is
// comma separated; fsync defaults to on.
const (
	EnvDir       = "TABLECAT_DIR"
	EnvTable     = "TABLECAT_TABLE"
	EnvWAL       = "TABLECAT_WAL"
	EnvPrimary   = "TABLECAT_PRIMARY"
	EnvIndexKeys = "TABLECAT_INDEX_KEYS"
	EnvFsync     = "TABLECAT_FSYNC"
)

var ErrEnvMissing = errors.New("tablecat: required environment variable is not set")

// SplitIndexKeys parses a comma-separated field list, trimming space and
// dropping blanks.
func SplitIndexKeys(s string) []string {
	var fields []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// OptionsFromEnv assembles the store directory and Options from the
// TABLECAT_* environment.
func OptionsFromEnv() (dir string, opts Options, err error) {
	required := func(name string) string {
		v := os.Getenv(name)
		if v == "" && err == nil {
			err = fmt.Errorf("%w: %s", ErrEnvMissing, name)
		}
		return v
	}
	dir = required(EnvDir)
	opts = Options{
		Table:        required(EnvTable),
		Primary:      required(EnvPrimary),
		IndexKeys:    SplitIndexKeys(required(EnvIndexKeys)),
		WALName:      os.Getenv(EnvWAL),
		DisableFsync: !envBool(EnvFsync, true),
	}
	return dir, opts, err
}

// OpenFromEnv opens the catalog described by the TABLECAT_* environment.
func OpenFromEnv(ctx context.Context) (*Catalog, error) {
	dir, opts, err := OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	return Open(ctx, dir, opts)
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
