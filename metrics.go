package tablecat

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kainaw/tablecat/replay"
)

// RegisterMetrics registers the package-level collectors shared by every
// catalog in the process. Per-catalog store collectors come from
// Catalog.Collectors. Registering the same registry twice is a no-op.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		OpCount,
		QueryDuration,
		replay.EntryCount,
		replay.WriteCount,
		replay.RunDuration,
	} {
		if err := reg.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}
