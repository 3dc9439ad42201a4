package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests           *prometheus.CounterVec
	CounterSyncRuns           prometheus.Counter
	CounterSyncErrors         prometheus.Counter
	CounterRecordsMerged      prometheus.Counter
	CounterArchivesWritten    prometheus.Counter
	CounterActivityDownloads  prometheus.Counter
	CounterStoreBackups       prometheus.Counter
	CounterHandleRequestPanic prometheus.Counter

	// gauges
	GaugeRequests   prometheus.Gauge
	GaugeLifeSignal prometheus.Gauge

	// histograms
	HistSyncDuration         prometheus.Histogram
	HistogramRequestDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("healthsync", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("healthsync", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterSyncRuns := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sync_runs",
		Help:      "The total number of daily sync cycles started",
	})
	counterSyncErrors := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sync_errors",
		Help:      "The total number of failed sync cycles",
	})
	counterRecordsMerged := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "records_merged",
		Help:      "The total number of daily records merged into the stats store",
	})
	counterArchivesWritten := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "archives_written",
		Help:      "The total number of per-date archive files written",
	})
	counterActivityDownloads := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "activity_downloads",
		Help:      "The total number of downloaded activity files",
	})
	counterStoreBackups := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "store_backups",
		Help:      "Number of stats store backups (sync folder or drive)",
	})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})

	histSyncDuration := factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets: []float64{
				0.01, 0.1, 0.5, 1, 2.5, 5, 10,
				30, 60, 120, 240, 480,
			},
			Name: "sync_duration_seconds",
			Help: "Total duration of a single sync cycle in seconds",
		},
	)

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method", "status_code"})

	return &Manager{
		CounterRequests:           counterRequests,
		CounterSyncRuns:           counterSyncRuns,
		CounterSyncErrors:         counterSyncErrors,
		CounterRecordsMerged:      counterRecordsMerged,
		CounterArchivesWritten:    counterArchivesWritten,
		CounterActivityDownloads:  counterActivityDownloads,
		CounterStoreBackups:       counterStoreBackups,
		CounterHandleRequestPanic: counterHandleRequestPanic,
		GaugeRequests:             gaugeRequests,
		GaugeLifeSignal:           gaugeLifeSignal,
		HistSyncDuration:          histSyncDuration,
		HistogramRequestDuration:  histogramRequestDuration,
	}
}
