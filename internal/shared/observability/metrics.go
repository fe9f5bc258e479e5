package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zira_jobs_submitted_total",
		Help: "Total number of jobs accepted by the coordinator.",
	}, []string{"kind"})

	JobsSupersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zira_jobs_superseded_total",
		Help: "Total number of unclaimed jobs replaced by a newer submission.",
	}, []string{"kind"})

	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zira_jobs_completed_total",
		Help: "Total number of job results delivered, by outcome.",
	}, []string{"kind", "outcome"})

	JobsStaleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zira_jobs_stale_total",
		Help: "Total number of results delivered after their owner went away.",
	}, []string{"kind"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zira_job_seconds",
		Help:    "Time spent running a claimed job.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	JobPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zira_job_panics_total",
		Help: "Total number of job panics recovered at the job boundary.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zira_queue_depth",
		Help: "Current number of pending jobs.",
	})

	WorkerUnavailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zira_worker_unavailable",
		Help: "1 while the background worker is unavailable.",
	})

	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zira_parsing_seconds",
		Help:    "Time spent analyzing a source text.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	AnalyzerCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zira_analyzer_cache_hits_total",
		Help: "Total number of analyses served from the content cache.",
	})

	IndexFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zira_index_files",
		Help: "Number of files in the published project index.",
	}, []string{"project"})

	IndexSymbols = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zira_index_symbols",
		Help: "Number of declarations in the published project index.",
	}, []string{"project"})

	ScanFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zira_scan_files_total",
		Help: "Files visited by project scans, by result.",
	}, []string{"result"})

	SearchMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zira_search_matches_total",
		Help: "Total number of search matches streamed.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zira_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	JournalWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zira_journal_write_errors_total",
		Help: "Total number of results that could not be journaled.",
	})
)
