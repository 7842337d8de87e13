package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetgraph_job_runs_total",
		Help: "Total job runs",
	}, []string{"job"})
	JobErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetgraph_job_errors_total",
		Help: "Total failed job runs",
	}, []string{"job"})
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tweetgraph_job_duration_seconds",
		Help:    "Job duration seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
	}, []string{"job"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetgraph_api_retries_total",
		Help: "Total API retries after service errors",
	}, []string{"endpoint"})
	RateLimitSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tweetgraph_rate_limit_switches_total",
		Help: "Times the credential pool moved to another session",
	})
	RateLimitSleeps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tweetgraph_rate_limit_sleeps_total",
		Help: "Times every session was rate limited and the pool slept",
	})
	RowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetgraph_rows_loaded_total",
		Help: "Rows loaded from the API by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(JobRuns, JobErrors, JobDuration, APIRetries, RateLimitSwitches, RateLimitSleeps, RowsLoaded)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("TWEETGRAPH_METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

func IncCommandRun(job string)   { JobRuns.WithLabelValues(job).Inc() }
func IncCommandError(job string) { JobErrors.WithLabelValues(job).Inc() }

// ObserveJobDuration records a run duration
func ObserveJobDuration(job string, start time.Time) {
	JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func AddRows(kind string, n int) {
	if n > 0 {
		RowsLoaded.WithLabelValues(kind).Add(float64(n))
	}
}
