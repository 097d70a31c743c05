package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector exports the LSM counters of one PebbleStore. A catalog
// runs two stores (table and log), so every metric carries a "store" label
// naming which one it describes.
type PebbleCollector struct {
	store *PebbleStore

	diskUsage               *prometheus.Desc
	flushCount              *prometheus.Desc
	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc
	memtableSize            *prometheus.Desc
	memtableCount           *prometheus.Desc
	walFiles                *prometheus.Desc
	walSize                 *prometheus.Desc
	walBytesIn              *prometheus.Desc
	walBytesWritten         *prometheus.Desc
}

func NewPebbleCollector(name string, s *PebbleStore) *PebbleCollector {
	labels := prometheus.Labels{"store": name}
	return &PebbleCollector{
		store: s,

		diskUsage: prometheus.NewDesc(
			"tablecat_pebble_disk_usage_bytes",
			"Total disk space used by the database",
			nil, labels,
		),
		flushCount: prometheus.NewDesc(
			"tablecat_pebble_flush_count_total",
			"Total number of memtable flushes",
			nil, labels,
		),
		compactionCount: prometheus.NewDesc(
			"tablecat_pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, labels,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"tablecat_pebble_compaction_estimated_debt_bytes",
			"Estimated bytes left to compact to reach a stable state",
			nil, labels,
		),
		compactionInProgress: prometheus.NewDesc(
			"tablecat_pebble_compaction_in_progress_bytes",
			"Bytes being compacted currently",
			nil, labels,
		),
		memtableSize: prometheus.NewDesc(
			"tablecat_pebble_memtable_size_bytes",
			"Current size of the memtables in bytes",
			nil, labels,
		),
		memtableCount: prometheus.NewDesc(
			"tablecat_pebble_memtable_count",
			"Current count of memtables",
			nil, labels,
		),
		walFiles: prometheus.NewDesc(
			"tablecat_pebble_wal_files",
			"Number of live write-ahead log files",
			nil, labels,
		),
		walSize: prometheus.NewDesc(
			"tablecat_pebble_wal_size_bytes",
			"Size of live write-ahead log data in bytes",
			nil, labels,
		),
		walBytesIn: prometheus.NewDesc(
			"tablecat_pebble_wal_bytes_in_total",
			"Total logical bytes written to the write-ahead log",
			nil, labels,
		),
		walBytesWritten: prometheus.NewDesc(
			"tablecat_pebble_wal_bytes_written_total",
			"Total physical bytes written to the write-ahead log",
			nil, labels,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.diskUsage
	ch <- pc.flushCount
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesIn
	ch <- pc.walBytesWritten
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	metrics := pc.store.Metrics()

	ch <- prometheus.MustNewConstMetric(
		pc.diskUsage,
		prometheus.GaugeValue,
		float64(metrics.DiskSpaceUsage()),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.flushCount,
		prometheus.CounterValue,
		float64(metrics.Flush.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.compactionCount,
		prometheus.CounterValue,
		float64(metrics.Compact.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.compactionEstimatedDebt,
		prometheus.GaugeValue,
		float64(metrics.Compact.EstimatedDebt),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.compactionInProgress,
		prometheus.GaugeValue,
		float64(metrics.Compact.InProgressBytes),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.memtableSize,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.memtableCount,
		prometheus.GaugeValue,
		float64(metrics.MemTable.Count),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walFiles,
		prometheus.GaugeValue,
		float64(metrics.WAL.Files),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walSize,
		prometheus.GaugeValue,
		float64(metrics.WAL.Size),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walBytesIn,
		prometheus.CounterValue,
		float64(metrics.WAL.BytesIn),
	)
	ch <- prometheus.MustNewConstMetric(
		pc.walBytesWritten,
		prometheus.CounterValue,
		float64(metrics.WAL.BytesWritten),
	)
}
