package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docchat"

var (
	DocumentsUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "documents_uploaded_total", Help: "Documents accepted for ingestion."},
	)
	IngestJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ingest_jobs_total", Help: "Ingestion jobs by outcome."},
		[]string{"outcome"},
	)
	IngestRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ingest_retries_total", Help: "Retried pipeline stage attempts."},
		[]string{"stage"},
	)
	QuotaDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "quota_denied_total", Help: "Admission checks denied by quota kind."},
		[]string{"kind"},
	)
	QuotaDrift = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "quota_drift_total", Help: "Reconciliations that found counter drift."},
	)
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "queries_total", Help: "Retrieval queries by outcome."},
		[]string{"outcome"},
	)
	RateLimit = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_total", Help: "Rate limiter decisions."},
		[]string{"limiter", "result"},
	)
	QueueMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "queue_messages_total", Help: "Worker queue messages by result."},
		[]string{"result"},
	)

	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_ms",
		Help:      "Document ingestion duration in milliseconds.",
		Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000},
	})
	QueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_ms",
		Help:      "Retrieval query duration in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// Registry holds every collector exported by this package.
var Registry = prometheus.NewRegistry()

func init() {
	RegisterCollectors(Registry)
}

// RegisterCollectors registers the package collectors with reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		DocumentsUploaded,
		IngestJobs,
		IngestRetries,
		QuotaDenied,
		QuotaDrift,
		Queries,
		RateLimit,
		QueueMessages,
		IngestDuration,
		QueryDuration,
	)
}

// IncDocumentUploaded counts a document that entered the pipeline.
func IncDocumentUploaded() { DocumentsUploaded.Inc() }

// IncIngest counts a finished ingestion job: processed, failed, deleted or requeued.
func IncIngest(outcome string) { IngestJobs.WithLabelValues(outcome).Inc() }

// IncIngestRetry counts one retried attempt for a pipeline stage.
func IncIngestRetry(stage string) { IngestRetries.WithLabelValues(stage).Inc() }

// IncQuotaDenied counts a denied admission check.
func IncQuotaDenied(kind string) { QuotaDenied.WithLabelValues(kind).Inc() }

// IncQuotaDrift counts a reconciliation that corrected drift.
func IncQuotaDrift() { QuotaDrift.Inc() }

// IncQuery counts a query by outcome: answered, denied or error.
func IncQuery(outcome string) { Queries.WithLabelValues(outcome).Inc() }

// IncRateLimit records a limiter decision.
func IncRateLimit(limiter string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	RateLimit.WithLabelValues(limiter, result).Inc()
}

// IncQueueMessage counts a worker message: received, acked, nacked or dropped.
func IncQueueMessage(result string) { QueueMessages.WithLabelValues(result).Inc() }

// ObserveIngestDuration records the time since start.
func ObserveIngestDuration(start time.Time) {
	IngestDuration.Observe(sinceMs(start))
}

// ObserveQueryDuration records the time since start.
func ObserveQueryDuration(start time.Time) {
	QueryDuration.Observe(sinceMs(start))
}

// RegisterDB exports pool statistics of db under the given name. Registering
// the same name twice is a no-op.
func RegisterDB(db *sql.DB, name string) error {
	err := Registry.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func sinceMs(start time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return float64(time.Since(start).Microseconds()) / 1000.0
}
