package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "ledgerd"
var subsystem = "bookie"

// every journal metric is partitioned by the journal directory it belongs to.
var journalLabels = []string{"journal"}

var (
	// StartupTime stores how long the startup took (in seconds), journal replay included
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// JournalAddEntriesTotal stores the number of entries accepted into the journal queue
	JournalAddEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_add_entries_total",
		Help:      "Number of entries enqueued for journaling",
	}, journalLabels)

	// JournalAddEntryBytesTotal stores the payload bytes written as journal records
	JournalAddEntryBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_add_entry_bytes_total",
		Help:      "Payload bytes written to journal files",
	}, journalLabels)

	// JournalForceLedgerTotal stores the number of explicit flush requests
	JournalForceLedgerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_force_ledger_total",
		Help:      "Number of force-ledger requests enqueued",
	}, journalLabels)

	// JournalFlushesTotal stores the number of group commits partitioned by what triggered them
	JournalFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_flushes_total",
		Help:      "Number of group commits partitioned by trigger",
	}, []string{"journal", "reason"})

	// JournalFlushDuration stores the time spent writing and syncing one group commit
	JournalFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_flush_duration_seconds",
		Help:      "Time spent flushing and syncing a group commit",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, journalLabels)

	// JournalFlushBatchSize stores how many queue entries a group commit acknowledged
	JournalFlushBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_flush_batch_entries",
		Help:      "Queue entries acknowledged by a single group commit",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, journalLabels)

	// JournalQueueLength stores the number of entries waiting for the journal goroutine
	JournalQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_queue_length",
		Help:      "Entries waiting in the journal queue",
	}, journalLabels)

	// JournalCallbackFailuresTotal stores the number of completions delivered with an error code
	JournalCallbackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_callback_failures_total",
		Help:      "Completions delivered with a non-zero result code",
	}, journalLabels)

	// JournalRotationsTotal stores the number of journal files opened by the writer
	JournalRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_rotations_total",
		Help:      "Journal files opened by the journal writer",
	}, journalLabels)

	// JournalReusedFilesTotal stores the number of journal files recycled on rotation
	JournalReusedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_reused_files_total",
		Help:      "Old journal files renamed into new ones instead of allocating fresh storage",
	}, journalLabels)

	// JournalCompactedFilesTotal stores the number of journal files deleted by checkpoint compaction
	JournalCompactedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_compacted_files_total",
		Help:      "Journal files deleted after a completed checkpoint",
	}, journalLabels)

	// JournalReplayedRecordsTotal stores the number of records handed to the replay scanner at startup
	JournalReplayedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_replayed_records_total",
		Help:      "Journal records replayed during startup recovery",
	}, journalLabels)

	// JournalDiskUsageBytes stores the disk usage of each journal directory
	JournalDiskUsageBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "journal_disk_usage_bytes",
		Help:      "Bytes of disk used by a journal directory",
	}, journalLabels)
)
