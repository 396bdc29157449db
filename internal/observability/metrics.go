package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	callDurationBuckets  = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	pagesPerCallBuckets  = []float64{1, 2, 5, 10, 25, 50, 100, 250}
	taskDurationBuckets  = []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900}
)

// Metrics holds all Prometheus metric instruments.
type Metrics struct {
	// Remote call metrics
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec
	PagesFetched  *prometheus.CounterVec
	PagesPerCall  *prometheus.HistogramVec

	// Interface document metrics
	DocumentFetchesTotal   *prometheus.CounterVec
	DocumentCacheHitsTotal *prometheus.CounterVec
	DocumentCacheSize      prometheus.Gauge

	// Workflow metrics
	WorkflowRunsTotal  *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	TasksTotal         *prometheus.CounterVec
	RowsWrittenTotal   *prometheus.CounterVec
}

// InitMetrics registers all metrics with the given registerer and returns
// the Metrics handle.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_calls_total",
			Help: "Remote calls executed, by service, function, and outcome.",
		}, []string{"service", "function", "outcome"}),

		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discoflow_call_duration_seconds",
			Help:    "Remote call duration including retries and all pages.",
			Buckets: callDurationBuckets,
		}, []string{"service", "function"}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_retries_total",
			Help: "Retry attempts, by service.",
		}, []string{"service"}),

		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_pages_fetched_total",
			Help: "Pagination pages fetched, by service.",
		}, []string{"service"}),

		PagesPerCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discoflow_pages_per_call",
			Help:    "Pages consumed per iterated call.",
			Buckets: pagesPerCallBuckets,
		}, []string{"service"}),

		DocumentFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_document_fetches_total",
			Help: "Interface document fetches, by service and version.",
		}, []string{"service", "version"}),

		DocumentCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_document_cache_hits_total",
			Help: "Interface document cache hits, by service and version.",
		}, []string{"service", "version"}),

		DocumentCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discoflow_document_cache_size",
			Help: "Number of interface documents held in the process cache.",
		}),

		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_workflow_runs_total",
			Help: "Workflow runs, by workflow and outcome.",
		}, []string{"workflow", "outcome"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discoflow_task_duration_seconds",
			Help:    "Workflow task duration, by task type.",
			Buckets: taskDurationBuckets,
		}, []string{"task"}),

		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_tasks_total",
			Help: "Workflow tasks executed, by task type and outcome.",
		}, []string{"task", "outcome"}),

		RowsWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discoflow_rows_written_total",
			Help: "Result rows delivered to sinks, by workflow.",
		}, []string{"workflow"}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.RetriesTotal,
		m.PagesFetched,
		m.PagesPerCall,
		m.DocumentFetchesTotal,
		m.DocumentCacheHitsTotal,
		m.DocumentCacheSize,
		m.WorkflowRunsTotal,
		m.TaskDuration,
		m.TasksTotal,
		m.RowsWrittenTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
)
